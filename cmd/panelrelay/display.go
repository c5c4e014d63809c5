package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/sammck-go/panelrelay/pkg/panel"
)

// fileDisplay renders a panel headlessly: the latest frame is kept as an
// image file and everything else goes to the log and a per-address journal.
type fileDisplay struct {
	logger.Logger
	dir     string
	address string

	mu       sync.Mutex
	userName string
	hostName string
}

func newFileDisplayFactory(lg logger.Logger, dir string) panel.DisplayFactory {
	return func(address string) panel.Display {
		return &fileDisplay{Logger: lg.Fork("%s", address), dir: dir, address: address}
	}
}

func (d *fileDisplay) base() string {
	return filepath.Join(d.dir, strings.ReplaceAll(d.address, ":", "_"))
}

func frameExt(frame []byte) string {
	if http.DetectContentType(frame) == "image/png" {
		return ".png"
	}
	return ".jpg"
}

func (d *fileDisplay) ShowFrame(frame []byte) {
	path := d.base() + frameExt(frame)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, frame, 0o644); err != nil {
		d.WLogf("Unable to write frame: %s", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		d.WLogf("Unable to replace frame: %s", err)
		return
	}
	d.TLogf("Frame written to %s", path)
}

func (d *fileDisplay) journal(format string, args ...interface{}) {
	line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	f, err := os.OpenFile(d.base()+".log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		d.WLogf("Unable to open journal: %s", err)
		return
	}
	defer f.Close()
	f.WriteString(line)
}

func (d *fileDisplay) ShowError(message string) {
	d.ELogf("%s", message)
	d.journal("error: %s", message)
}

func (d *fileDisplay) ShowUserName(name string) {
	d.mu.Lock()
	changed := name != d.userName
	d.userName = name
	d.mu.Unlock()
	if changed && name != "" {
		d.ILogf("User: %s", name)
		d.journal("user: %s", name)
	}
}

func (d *fileDisplay) ShowHostName(name string) {
	d.mu.Lock()
	changed := name != d.hostName
	d.hostName = name
	d.mu.Unlock()
	if changed && name != "" {
		d.ILogf("Host: %s", name)
		d.journal("host: %s", name)
	}
}

func (d *fileDisplay) ShowMessage(text string, outgoing bool) {
	dir := "<"
	if outgoing {
		dir = ">"
	}
	d.ILogf("%s %s", dir, text)
	d.journal("%s %s", dir, text)
}
