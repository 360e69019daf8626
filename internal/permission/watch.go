package permission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/reaper/internal/watch"
)

// WatchConsentStore refreshes every tracked subject when the OS rewrites
// one of the consent store directories, i.e. after the user comes back
// from System Settings. Blocks until ctx is cancelled.
func (t *Tracker) WatchConsentStore(ctx context.Context, dirs []string) error {
	w, err := watch.New(dirs, func() {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		t.log.Ctx(rctx).Debug("consent store changed, refreshing")
		t.Refresh(rctx)
	}, watch.DefaultDebounce, t.log.Logger)
	if err != nil {
		return err
	}
	if len(w.Paths()) == 0 {
		t.log.Ctx(ctx).Info("no consent store directory to watch", zap.Strings("dirs", dirs))
	}
	return w.Run(ctx)
}
