// The demo tool connects one sync client to a messaging backend, prints every
// store mutation, and sends stdin lines as messages. Prometheus metrics and
// pprof are served on --debug-addr.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nbrly/chatsync/auth"
	"github.com/nbrly/chatsync/chatstore"
	"github.com/nbrly/chatsync/client"
	"github.com/nbrly/chatsync/emitter"
)

var (
	flagURL          = flag.String("url", "ws://127.0.0.1:8000/ws", "messaging websocket endpoint")
	flagToken        = flag.String("token", "", "bearer token (overrides --token-file)")
	flagTokenFile    = flag.String("token-file", "", "bbolt token store path")
	flagSelfID       = flag.String("self-id", "", "local user id")
	flagSelfName     = flag.String("self-name", "demo user", "local display name")
	flagConversation = flag.String("conversation", "", "conversation to send stdin lines to")
	flagDebugAddr    = flag.String("debug-addr", "127.0.0.1:9100", "metrics/pprof listen address, empty to disable")
	flagBaseDelay    = flag.Duration("reconnect-base-delay", time.Second, "reconnect backoff base delay")
	flagMaxAttempts  = flag.Int("reconnect-max-attempts", 5, "reconnect attempts per round")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if *flagSelfID == "" {
		glog.Error("--self-id is required")
		return 1
	}

	tokens, cleanup, err := newTokenSource()
	if err != nil {
		glog.Errorf("token source: %v", err)
		return 1
	}
	defer cleanup()

	if *flagDebugAddr != "" {
		http.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
		go func() {
			glog.Infof("debug server listening on %s", *flagDebugAddr)
			if err := http.ListenAndServe(*flagDebugAddr, nil); err != nil {
				glog.Errorf("debug server: %v", err)
			}
		}()
	}

	c := client.New(client.Config{
		URL:                  *flagURL,
		SelfID:               *flagSelfID,
		SelfName:             *flagSelfName,
		Tokens:               tokens,
		ReconnectBaseDelay:   *flagBaseDelay,
		ReconnectMaxAttempts: *flagMaxAttempts,
	})
	subscribeAll(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		glog.Errorf("start: %v", err)
		return 1
	}
	defer c.Stop()

	if *flagConversation != "" {
		go sendLoop(ctx, c, *flagConversation)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	glog.Infof("received signal `%s`, stopping", sig.String())
	return 0
}

func newTokenSource() (auth.TokenSource, func(), error) {
	if *flagToken != "" {
		return auth.StaticTokenSource(*flagToken), func() {}, nil
	}
	if *flagTokenFile == "" {
		return nil, nil, fmt.Errorf("either --token or --token-file is required")
	}
	store, err := auth.OpenFileTokenStore(*flagTokenFile)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func subscribeAll(c *client.Client) {
	c.Subscribe(emitter.EventConnected, func(interface{}) {
		glog.Info("event: connected")
	})
	c.Subscribe(emitter.EventDisconnected, func(p interface{}) {
		glog.Infof("event: disconnected: %+v", p)
	})
	c.Subscribe(emitter.EventReconnectFailed, func(interface{}) {
		glog.Warning("event: reconnect failed, run out of attempts")
	})
	c.Subscribe(emitter.EventMessageAdded, func(p interface{}) {
		m := p.(chatstore.Message)
		glog.Infof("event: message from %s in %s: %s [%s]", m.SenderName, m.ConversationID, m.Text, m.Status)
	})
	c.Subscribe(emitter.EventMessageStatusChanged, func(p interface{}) {
		m := p.(chatstore.Message)
		glog.Infof("event: message %s is now %s", m.ID, m.Status)
	})
	c.Subscribe(emitter.EventMessageDeleted, func(p interface{}) {
		glog.Infof("event: message deleted: %+v", p)
	})
	c.Subscribe(emitter.EventConversationUpdated, func(p interface{}) {
		conv := p.(chatstore.Conversation)
		glog.Infof("event: conversation %s updated, unread=%d", conv.ID, conv.UnreadCount)
	})
	c.Subscribe(emitter.EventTypingStatusChanged, func(p interface{}) {
		glog.Infof("event: typing: %+v", p)
	})
}

func sendLoop(ctx context.Context, c *client.Client, convID string) {
	c.SetActiveConversation(convID)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		c.StartTyping(convID)

		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		m, err := c.SendMessage(sendCtx, convID, client.Outgoing{Text: text})
		cancel()
		if err != nil {
			glog.Errorf("sendLoop(): send failed: %v", err)
			continue
		}
		glog.Infof("sendLoop(): sent %s", m.ID)
	}
}
