package tools

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ToAddressString - return "$host:$port"
func ToAddressString(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.FormatInt(int64(port), 10))
}

// If - ternary helper for log messages
func If[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

// PathExist - return whether exist of path
func PathExist(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	return false
}

// ReadOrCreateFile - read from config file, and return the file content
// if path not exist, will create the path and call `f()` to write to the file.
func ReadOrCreateFile(path string, f func() []byte) ([]byte, error) {
	if PathExist(path) {
		content, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return content, nil
	}
	content := f()
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, err
	}
	// the file holds the passphrase
	file, err2 := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err2 != nil {
		return nil, err2
	}
	defer file.Close()
	if _, err := file.Write(content); err != nil {
		return nil, err
	}
	return content, nil
}

// LogAndExitIfErr - will log and exit if err != nil
func LogAndExitIfErr(err error) {
	if err != nil {
		Logger.Fatal().Msgf("error: %s", err.Error())
	}
}

var stdinToChannelOnce sync.Once
var stdinChannel chan []byte

// StdinToChannel - get one same stdin channel
func StdinToChannel() <-chan []byte {
	stdinToChannelOnce.Do(func() {
		stdinChannel = make(chan []byte)
		go func() {
			var (
				buffer       = make([]byte, 4096, 4096)
				err    error = nil
				n            = int(0)
			)
			for {
				n, err = os.Stdin.Read(buffer)
				if err != nil {
					close(stdinChannel)
					return
				}
				copyBuffer := make([]byte, n, n)
				copy(copyBuffer, buffer[:n])
				stdinChannel <- copyBuffer
			}
		}()
	})
	return stdinChannel
}
