package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/lightprox/cmd/sensors/console"
	"github.com/mklimuk/lightprox/environment"
	"github.com/mklimuk/lightprox/recorder"
)

var recordFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "db",
		Usage:   "sqlite database file",
		Value:   "lightprox.db",
		EnvVars: []string{"SENSORS_DB"},
	},
	&cli.DurationFlag{
		Name:  "interval",
		Value: 10 * time.Second,
	},
}

var lightRecordCmd = cli.Command{
	Name:  "record",
	Usage: "sample the sensor into the database",
	Flags: append([]cli.Flag{
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "stop after n samples, 0 records until interrupted"},
	}, recordFlags...),
	Action: func(c *cli.Context) error {
		store, err := recorder.Open(c.Context, c.String("db"))
		if err != nil {
			return console.Exit(1, "database error: %s", console.Red(err))
		}
		defer store.Close()
		return withSensor(c, true, func(ctx context.Context, s *environment.BMS33M332) error {
			sampler := recorder.NewSampler(s, store,
				recorder.WithInterval(c.Duration("interval")),
				recorder.WithMaxSamples(c.Int("count")),
				recorder.WithReadingHook(printStored),
			)
			session, err := sampler.Run(ctx)
			if err != nil {
				return console.Exit(1, "recording failed: %s", console.Red(err))
			}
			console.PInfof(console.PictoNotebook, "session %s recorded", console.White(session))
			return nil
		})
	},
}

var lightServeCmd = cli.Command{
	Name:  "serve",
	Usage: "serve recorded readings over HTTP, optionally recording at the same time",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "listen", Value: ":8080"},
		&cli.BoolFlag{Name: "record", Usage: "sample the sensor while serving"},
	}, recordFlags...),
	Action: func(c *cli.Context) error {
		ctx := c.Context
		store, err := recorder.Open(ctx, c.String("db"))
		if err != nil {
			return console.Exit(1, "database error: %s", console.Red(err))
		}
		defer store.Close()

		srv := &http.Server{
			Addr:              c.String("listen"),
			Handler:           recorder.NewRouter(store),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()

		if c.Bool("record") {
			return withSensor(c, true, func(ctx context.Context, s *environment.BMS33M332) error {
				sampler := recorder.NewSampler(s, store, recorder.WithInterval(c.Duration("interval")))
				go func() {
					if _, err := sampler.Run(ctx); err != nil {
						slog.Error("recording failed", "err", err)
					}
				}()
				return listen(srv)
			})
		}
		return listen(srv)
	},
}

func listen(srv *http.Server) error {
	console.PInfof(console.PictoPin, "serving readings on %s", console.White(srv.Addr))
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return console.Exit(1, "server error: %s", console.Red(err))
	}
	return nil
}

func printStored(r recorder.Reading) {
	console.Printf("%s  %s lux\tproximity %s\n", r.CreatedAt.Format(time.DateTime), console.White(fmt.Sprintf("%.2f", r.Lux)), console.White(r.Proximity))
}
