// Command chat runs a small room-based chat server exercising the whole
// stack: namespaces, rooms, acknowledgements, volatile broadcasts and
// optionally the msgpack parser, connection state recovery and the
// WebTransport endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go/http3"
	"github.com/urfave/cli"
	"github.com/zishang520/webtransport-go"

	"github.com/evsio/evsio/parser/mpparser"
	"github.com/evsio/evsio/socket"
)

func main() {
	app := cli.NewApp()
	app.Name = "chat"
	app.Usage = "room based chat server"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: ":3000", Usage: "listen address"},
		cli.StringFlag{Name: "path", Value: "/socket.io", Usage: "handler mount point"},
		cli.BoolFlag{Name: "msgpack", Usage: "use the msgpack wire parser"},
		cli.BoolFlag{Name: "recovery", Usage: "enable connection state recovery"},
		cli.StringFlag{Name: "cert", Usage: "TLS certificate, also enables the WebTransport endpoint"},
		cli.StringFlag{Name: "key", Usage: "TLS key"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	opts := socket.DefaultServerOptions()
	opts.SetPath(c.String("path"))
	if c.Bool("msgpack") {
		opts.SetParser(mpparser.NewParser())
	}
	if c.Bool("recovery") {
		opts.SetConnectionStateRecovery(&socket.ConnectionStateRecovery{})
	}

	io := socket.NewServer(opts)
	io.On("connection", func(args ...any) {
		s := args[0].(*socket.Socket)

		s.On("join", func(ev ...any) {
			room, ok := ev[0].(string)
			if !ok {
				return
			}
			s.Join(socket.Room(room))
			s.To(socket.Room(room)).Emit("user joined", s.Id())
			if ack, withAck := ev[len(ev)-1].(socket.Ack); withAck {
				ack([]any{"joined " + room}, nil)
			}
		})

		s.On("chat message", func(ev ...any) {
			if len(ev) < 2 {
				return
			}
			room, _ := ev[0].(string)
			s.To(socket.Room(room)).Emit("chat message", s.Id(), ev[1])
		})

		s.On("typing", func(ev ...any) {
			room, _ := ev[0].(string)
			// typing indicators may be dropped under pressure
			s.Volatile().To(socket.Room(room)).Emit("typing", s.Id())
		})

		s.On("disconnecting", func(...any) {
			for _, room := range s.Rooms().Keys() {
				if room == socket.Room(s.Id()) {
					continue
				}
				s.To(room).Emit("user left", s.Id())
			}
		})
	})

	handler := io.ServeHandler(nil)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.GET("/healthz", func(ctx echo.Context) error {
		return ctx.String(200, "ok")
	})
	path := c.String("path")
	e.Any(path, echo.WrapHandler(handler))
	e.Any(path+"/*", echo.WrapHandler(handler))

	cert, key := c.String("cert"), c.String("key")
	if cert != "" && key != "" {
		h3 := echo.New()
		h3.HideBanner = true
		wts := &webtransport.Server{H3: http3.Server{Addr: c.String("addr")}}
		wtHandler := echo.WrapHandler(io.Engine().WebTransportHandler(wts))
		h3.Any(path, wtHandler)
		h3.Any(path+"/*", wtHandler)
		wts.H3.Handler = h3
		go func() {
			if err := wts.ListenAndServeTLS(cert, key); err != nil {
				fmt.Fprintf(os.Stderr, "webtransport: %+v\n", errors.Wrap(err, "listen"))
			}
		}()
		return errors.Wrap(e.StartTLS(c.String("addr"), cert, key), "https server")
	}
	return errors.Wrap(e.Start(c.String("addr")), "http server")
}
