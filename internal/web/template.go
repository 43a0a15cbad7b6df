package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/esk8-logger/internal/logic"
	"github.com/sweeney/esk8-logger/internal/ridelog"
	"github.com/sweeney/esk8-logger/internal/state"
	"github.com/sweeney/esk8-logger/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"duration": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateClass": func(s logic.DeviceState) string {
		switch s {
		case logic.StateRiding:
			return "riding"
		case logic.StateCharging:
			return "charging"
		}
		return "parked"
	},
	"mib": func(b uint64) string {
		return fmt.Sprintf("%.1f", float64(b)/(1<<20))
	},
	"clock": func(t time.Time) string {
		return t.UTC().Format("15:04:05")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>esk8 logger</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.riding { color: green; font-weight: bold; }
.charging { color: #06c; font-weight: bold; }
.parked { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>esk8 logger {{.Config.Device}}{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Board</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Current</th><td id="current">{{printf "%.2f" .Current}} A</td></tr>
<tr><th>Voltage</th><td id="voltage">{{printf "%.2f" .Voltage}} V</td></tr>
<tr><th>Sensor</th><td>{{if .SensorOK}}ok{{else}}unavailable{{end}}</td></tr>
<tr><th>Manual ride start</th><td>{{if .ManualRideStart}}on{{else}}off{{end}}</td></tr>
</table>

<h2>Ride</h2>
<table>
<tr><th>Trip</th><td id="trip">{{printf "%.2f" .TripKm}} km</td></tr>
<tr><th>Duration</th><td>{{duration .RideDuration}}</td></tr>
{{if .Fix.Valid}}<tr><th>Position</th><td>{{printf "%.5f" .Fix.Latitude}}, {{printf "%.5f" .Fix.Longitude}}</td></tr>
<tr><th>Speed</th><td id="speed">{{printf "%.1f" .Fix.SpeedKmh}} km/h</td></tr>
<tr><th>Satellites</th><td>{{.Fix.Satellites}}</td></tr>{{else}}<tr><th>GPS</th><td>no fix</td></tr>{{end}}
</table>

<h2>Power</h2>
<table>
<tr><th>Wifi</th><td>{{.Wifi}}</td></tr>
<tr><th>Live clients</th><td>{{if .ClientConnected}}yes{{else}}no{{end}}</td></tr>
<tr><th>Upload</th><td>{{if .UploadRunning}}running{{else}}idle{{end}}</td></tr>
<tr><th>Pending logs</th><td>{{.PendingLogs}}</td></tr>
<tr><th>Storage free</th><td id="storage">{{if .StorageTotal}}{{mib .StorageFree}} of {{mib .StorageTotal}} MiB{{else}}unknown{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

{{if .History}}<h2>Recent changes</h2>
<table>
{{range .History}}<tr><th>{{clock .At}}</th><td>{{.From}} &rarr; {{.To}}{{if .Event}} ({{.Event}}){{end}}</td></tr>
{{end}}</table>{{end}}

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{duration .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Active period</th><td>{{.Config.ActivePeriodMs}}ms</td></tr>
<tr><th>Idle period</th><td>{{.Config.IdlePeriodMs}}ms</td></tr>
<tr><th>Log dir</th><td>{{.Config.LogDir}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a>{{if .Logs}} | <a href="/logs">Logs</a>{{end}}</p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var el = function(id) { return document.getElementById(id); };

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function setState(s) {
    var st = el("state");
    st.textContent = s;
    st.className = s === "RIDING" ? "riding" : s === "CHARGING" ? "charging" : "parked";
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.state) { setState(msg.state); }
        if (msg.type === "telemetry" && msg.data) {
          el("current").textContent = msg.data.current.toFixed(2) + " A";
          el("voltage").textContent = msg.data.voltage.toFixed(2) + " V";
          el("trip").textContent = msg.data.trip_km.toFixed(2) + " km";
          if (el("speed")) { el("speed").textContent = msg.data.speed_kmh.toFixed(1) + " km/h"; }
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, history []state.Change, live, logs bool) {
	// Snapshot has duration methods but the template needs fields.
	data := struct {
		status.Snapshot
		Uptime       time.Duration
		RideDuration time.Duration
		History      []state.Change
		Live         bool
		Logs         bool
	}{
		Snapshot:     snap,
		Uptime:       snap.Uptime(),
		RideDuration: snap.RideDuration(),
		History:      history,
		Live:         live,
		Logs:         logs,
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.WithError(err).Warn("render status page")
	}
}

var logsTmpl = template.Must(template.New("logs").Parse(logsHTML))

const logsHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>esk8 logs</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
</style>
</head>
<body>
<h1>esk8 logs {{.Device}}</h1>
{{range .Groups}}
<h2>{{.Title}}</h2>
{{if .Files}}<table>
<tr><th>Name</th><th>Size</th></tr>
{{range .Files}}<tr><td><a href="/logs/{{.Name}}">{{.Name}}</a></td><td>{{.Size}} B</td></tr>
{{end}}</table>{{else}}<p>none</p>{{end}}
{{end}}
<p><a href="/">Status</a></p>
</body>
</html>
`

type logGroup struct {
	Title string
	Files []ridelog.File
}

func renderLogs(w io.Writer, device string, pending, synced []ridelog.File) {
	data := struct {
		Device string
		Groups []logGroup
	}{
		Device: device,
		Groups: []logGroup{
			{Title: "Pending", Files: pending},
			{Title: "Synced", Files: synced},
		},
	}
	if err := logsTmpl.Execute(w, data); err != nil {
		log.WithError(err).Warn("render log list")
	}
}
