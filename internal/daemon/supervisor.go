package daemon

import (
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/g960059/itch/internal/logging"
)

func newTree(shutdownTimeout time.Duration) *suture.Supervisor {
	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger("supervisor")}
	return suture.New("itchd", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}
