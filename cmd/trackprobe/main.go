// trackprobe dials a relay, joins one order room and prints every frame it
// receives. With -courier it also publishes a moving location.
//
// Usage: go run ./cmd/trackprobe -order 42 -secret $ORDERTRACK_SERVER_AUTH_JWTSECRET -courier
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/railx/ordertrack/pkg/auth"
	"github.com/railx/ordertrack/pkg/logging"
	"github.com/railx/ordertrack/pkg/tracking"
)

const writeWait = 5 * time.Second

func main() {
	url := flag.String("url", "ws://localhost:3001/ws", "relay websocket url")
	order := flag.String("order", "42", "order id to join")
	token := flag.String("token", "", "bearer token; minted from -secret when empty")
	secret := flag.String("secret", "", "JWT secret used to mint a token")
	subject := flag.String("subject", "trackprobe", "token subject when minting")
	courier := flag.Bool("courier", false, "publish courier locations for the order")
	status := flag.String("status", "", "publish one order status after joining")
	interval := flag.Duration("interval", 2*time.Second, "location publish interval")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(level, "text")

	if *token == "" && *secret != "" {
		role := "customer"
		if *courier || *status != "" {
			role = "courier"
		}
		minted, err := auth.Issue(*secret, *subject, role, []string{*order}, time.Hour)
		if err != nil {
			logger.Error("failed to mint token", slog.Any("error", err))
			os.Exit(1)
		}
		*token = minted
	}

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(*url, header)
	if err != nil {
		if resp != nil {
			logger.Error("handshake rejected", slog.Int("status", resp.StatusCode), slog.Any("error", err))
		} else {
			logger.Error("dial failed", slog.Any("error", err))
		}
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", slog.String("url", *url))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		defer stop()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					logger.Warn("read failed", slog.Any("error", err))
				}
				return
			}
			fmt.Println(string(data))
		}
	}()

	if err := send(conn, tracking.EventJoinOrder, *order); err != nil {
		logger.Error("join failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("joined order", slog.String("order", *order))

	if *status != "" {
		if err := send(conn, tracking.EventOrderStatus, map[string]string{"orderId": *order, "status": *status}); err != nil {
			logger.Error("status publish failed", slog.Any("error", err))
		}
	}

	var tick <-chan time.Time
	if *courier {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	loc := tracking.Location{Lat: 52.5200, Lng: 13.4050}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-tick:
			loc.Lat += 0.0005
			loc.Lng += 0.0003
			payload := map[string]any{"orderId": *order, "location": loc}
			if err := send(conn, tracking.EventCourierLocation, payload); err != nil {
				logger.Warn("location publish failed", slog.Any("error", err))
				return
			}
			logger.Debug("published location", slog.Float64("lat", loc.Lat), slog.Float64("lng", loc.Lng))
		}
	}
}

func send(conn *websocket.Conn, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(tracking.Frame{Event: event, Payload: raw})
}
