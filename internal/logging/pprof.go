package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // register pprof handlers on the default mux
)

// startPprof starts a pprof HTTP server on addr. Only called when
// PprofEnabled is set in Config; termexecd defaults it to a port distinct
// from the common 6060 default so it doesn't collide with other Go tools
// an operator might already have running on the same box.
func startPprof(addr string) {
	go func() {
		Logger().Info("pprof_server_start", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			Logger().Error("pprof_server_error", slog.String("error", err.Error()))
		}
	}()
}
