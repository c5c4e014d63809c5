package panel

import (
	"context"
	"sync"
	"time"

	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/sammck-go/panelrelay/pkg/veyon"
)

// ViewerFrame is the frame requested by the full-size viewer
var ViewerFrame = veyon.FrameOptions{
	Format:      veyon.FormatJPEG,
	Width:       1280,
	Height:      960,
	Compression: 9,
	Quality:     50,
}

// ViewerInterval is the time between viewer refreshes
const ViewerInterval = time.Second

// InvalidatedMessage is shown once a viewed session is no longer accepted
const InvalidatedMessage = "Connection invalidated"

// ViewerSource is the part of a Session the viewer reads
type ViewerSource interface {
	FrameSource
	User(ctx context.Context) (*veyon.UserInfo, error)
}

// View shows src at full size until ctx is done or the session turns out to be
// invalid, in which case the terminal error is returned. src is usually a
// Session resumed with veyon.NewSession from a saved token, so no login takes
// place. The user's full name is read once. interval falls back to
// ViewerInterval when not positive.
func View(ctx context.Context, lg logger.Logger, src ViewerSource, display Display, visibility Visibility, interval time.Duration) error {
	if interval <= 0 {
		interval = ViewerInterval
	}
	p := NewPoller(lg, src, display, visibility, ViewerFrame, interval)
	p.InvalidMessage = InvalidatedMessage

	userCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		user, err := src.User(userCtx)
		if err != nil {
			lg.DLogf("User lookup failed: %s", err)
			return
		}
		if user.FullName != "" {
			display.ShowUserName(user.FullName)
		}
	}()

	p.Run(ctx)
	cancel()
	wg.Wait()
	if err := p.Err(); err != nil {
		return err
	}
	return ctx.Err()
}
