//go:build !unix

package ridelog

import "errors"

func statfs(string) (Space, error) {
	return Space{}, errors.New("free space not supported on this platform")
}
