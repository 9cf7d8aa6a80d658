// Command demo starts an in-memory hub, has two replicas type into the same
// document concurrently, prints the converged text, and keeps serving until
// interrupted.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/asadovsky/wikiffiti/server/client"
	"github.com/asadovsky/wikiffiti/server/hub"
	"github.com/asadovsky/wikiffiti/server/store"
)

var log = logging.Logger("demo")

// typeText types text one rune at a time at the end of c's replica.
func typeText(c *client.Client, text string, delay time.Duration) error {
	for _, r := range text {
		if err := c.Insert(len([]rune(c.Text())), string(r)); err != nil {
			return err
		}
		time.Sleep(delay)
	}
	return nil
}

func runDemo(ctx context.Context, addr, doc string, texts []string, wait bool) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s := hub.New(store.NewMemory(), hub.Options{})
	defer s.Close()
	srv := &http.Server{Handler: s.Handler()}
	go srv.Serve(ln)
	defer srv.Close()

	wsURL := fmt.Sprintf("ws://%s/docs/%s/ws", ln.Addr(), doc)
	clients := make([]*client.Client, len(texts))
	for i := range clients {
		c, err := client.Dial(wsURL, doc, client.Options{})
		if err != nil {
			return err
		}
		defer c.Close()
		clients[i] = c
	}

	var wg sync.WaitGroup
	errc := make(chan error, len(clients))
	for i, c := range clients {
		wg.Add(1)
		go func(c *client.Client, text string) {
			defer wg.Done()
			errc <- typeText(c, text, 5*time.Millisecond)
		}(c, texts[i])
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		if err != nil {
			return err
		}
	}

	syncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	last := 0
	for _, c := range clients {
		if err := c.Sync(syncCtx); err != nil {
			return err
		}
		if p := c.PatchId(); p > last {
			last = p
		}
	}
	for i, c := range clients {
		if err := c.WaitPatch(syncCtx, last); err != nil {
			return err
		}
		fmt.Printf("replica %d: %q\n", i, c.Text())
	}
	fmt.Printf("http://%s/docs/%s\n", ln.Addr(), doc)
	if !wait {
		return nil
	}
	log.Infof("serving on %s; interrupt to exit", ln.Addr())
	<-ctx.Done()
	return nil
}

func main() {
	cmd := &cobra.Command{
		Use:          "demo",
		Short:        "Run two replicas against an in-process hub",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetInt("port")
			doc, _ := cmd.Flags().GetString("doc")
			texts, _ := cmd.Flags().GetStringSlice("text")
			wait, _ := cmd.Flags().GetBool("wait")
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runDemo(ctx, fmt.Sprintf("localhost:%d", port), doc, texts, wait)
		},
	}
	cmd.Flags().Int("port", 0, "Listen port (0 picks a free one)")
	cmd.Flags().String("doc", "demo", "Document name")
	cmd.Flags().StringSlice("text", []string{"hello from a ", "and hi from b "}, "Text typed by each replica")
	cmd.Flags().Bool("wait", true, "Keep serving after the replicas converge")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
