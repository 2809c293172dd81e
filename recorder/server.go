package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// Source is the read side of a Store.
type Source interface {
	Latest(ctx context.Context) (Reading, error)
	Session(ctx context.Context, session string) ([]Reading, error)
	Range(ctx context.Context, from, to time.Time) ([]Reading, error)
}

var _ Source = &Store{}

// DefaultRange is the window served when a request names neither a session
// nor a time range.
const DefaultRange = 24 * time.Hour

// NewRouter serves recorded readings:
//
//	GET /id                        service identification
//	GET /api/v1/readings/latest    most recent reading
//	GET /api/v1/readings           ?session=<id> or ?from=&to= (RFC 3339)
//	GET /graph                     lux chart, same query parameters
func NewRouter(src Source) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service_name": "lightprox recorder"})
	})
	r.Route("/api/v1/readings", func(r chi.Router) {
		r.Get("/latest", serveLatest(src))
		r.Get("/", serveReadings(src))
	})
	r.Get("/graph", serveGraph(src))
	return r
}

func serveLatest(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reading, err := src.Latest(r.Context())
		if errors.Is(err, ErrNoReadings) {
			writeMessage(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, reading)
	}
}

func serveReadings(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readings, err := selectFromQuery(r, src)
		if err != nil {
			writeMessage(w, statusOf(err), err.Error())
			return
		}
		if readings == nil {
			readings = []Reading{}
		}
		writeJSON(w, http.StatusOK, readings)
	}
}

func serveGraph(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readings, err := selectFromQuery(r, src)
		if err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		line := luxChart(readings)
		w.Header().Set("Content-Type", "text/html")
		if err := line.Render(w); err != nil {
			slog.Warn("could not render chart", "err", err)
		}
	}
}

func luxChart(readings []Reading) *charts.Line {
	times := make([]string, 0, len(readings))
	lux := make([]opts.LineData, 0, len(readings))
	for _, reading := range readings {
		times = append(times, reading.CreatedAt.Format(time.DateTime))
		lux = append(lux, opts.LineData{Value: reading.Lux})
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Ambient light",
			Theme:     types.ThemeChalk,
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "Time",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "Lux",
			Min:  "0",
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    true,
			Trigger: "axis",
		}),
	)
	line.SetXAxis(times).AddSeries("Lux", lux)
	return line
}

type badRequestError struct {
	err error
}

func (e badRequestError) Error() string {
	return e.err.Error()
}

func (e badRequestError) Unwrap() error {
	return e.err
}

func statusOf(err error) int {
	var bad badRequestError
	if errors.As(err, &bad) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func selectFromQuery(r *http.Request, src Source) ([]Reading, error) {
	q := r.URL.Query()
	if session := q.Get("session"); session != "" {
		return src.Session(r.Context(), session)
	}
	to := time.Now()
	from := to.Add(-DefaultRange)
	var err error
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, badRequestError{fmt.Errorf("invalid end of range: %w", err)}
		}
		from = to.Add(-DefaultRange)
	}
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, badRequestError{fmt.Errorf("invalid start of range: %w", err)}
		}
	}
	if from.After(to) {
		return nil, badRequestError{errors.New("start of range is after its end")}
	}
	return src.Range(r.Context(), from, to)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("could not encode response", "err", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("request served", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}
