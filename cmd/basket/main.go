package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/mfeltner/basket/internal/listclient"
	"github.com/mfeltner/basket/internal/logging"
	"github.com/mfeltner/basket/internal/reconcile"
	"github.com/mfeltner/basket/internal/websocket"
)

const usage = `Usage: basket [-server URL] <command> [args]

Commands:
  create                          mint a new shared list and print its URL
  show <list-id>                  print the list's items and total
  add <list-id> <name> [price] [qty]
                                  add an item (reuses an unchecked duplicate)
  check <list-id> <item-id>       toggle an item's purchased flag
  remove <list-id> <item-id>      decrement quantity, confirming deletion at 1
  save <list-id> <name>           snapshot the list into the history
  watch <list-id>                 follow the list's live change feed
`

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "basket server base URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	logger := logging.Setup(os.Getenv("BASKET_LOG_LEVEL"), "pretty")
	client := listclient.New(*serverURL, logger)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch args[0] {
	case "create":
		err = runCreate(ctx, client, *serverURL)
	case "show":
		err = runShow(ctx, client, logger, args[1:])
	case "add":
		err = runAdd(ctx, client, logger, args[1:])
	case "check":
		err = runCheck(ctx, client, logger, args[1:])
	case "remove":
		err = runRemove(ctx, client, logger, args[1:])
	case "save":
		err = runSave(ctx, client, args[1:])
	case "watch":
		err = runWatch(ctx, client, logger, args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "basket:", err)
		os.Exit(1)
	}
}

func runCreate(ctx context.Context, client *listclient.Client, serverURL string) error {
	id := uuid.NewString()
	if _, err := client.InsertIfAbsent(ctx, id); err != nil {
		return err
	}
	fmt.Printf("created list %s\n", id)
	fmt.Printf("share: %s/list/%s\n", strings.TrimRight(serverURL, "/"), id)
	return nil
}

func runShow(ctx context.Context, client *listclient.Client, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("show needs a list id")
	}
	rec := reconcile.New(args[0], client, logger)
	if err := rec.Load(ctx); err != nil {
		return err
	}
	printList(rec)
	return nil
}

func runAdd(ctx context.Context, client *listclient.Client, logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		return errors.New("add needs a list id and an item name")
	}
	price := 0.0
	qty := 1
	var err error
	if len(args) >= 3 {
		if price, err = strconv.ParseFloat(args[2], 64); err != nil {
			return fmt.Errorf("invalid price %q", args[2])
		}
	}
	if len(args) >= 4 {
		if qty, err = strconv.Atoi(args[3]); err != nil {
			return fmt.Errorf("invalid quantity %q", args[3])
		}
	}

	rec := reconcile.New(args[0], client, logger)
	if err := rec.Load(ctx); err != nil {
		return err
	}

	item, inserted, err := rec.AddItem(args[1], price, qty)
	if err != nil {
		return err
	}
	rec.Flush()
	if err := rec.LastError(); err != nil {
		return fmt.Errorf("saved locally but not persisted: %w", err)
	}

	if !inserted {
		fmt.Printf("already on the list: %s (id %s)\n", item.Name, item.ID)
		return nil
	}
	fmt.Printf("added %s (id %s), total %.2f\n", item.Name, item.ID, rec.CurrentTotal())
	return nil
}

func runCheck(ctx context.Context, client *listclient.Client, logger *slog.Logger, args []string) error {
	if len(args) != 2 {
		return errors.New("check needs a list id and an item id")
	}
	rec := reconcile.New(args[0], client, logger)
	if err := rec.Load(ctx); err != nil {
		return err
	}
	if err := rec.ToggleChecked(args[1]); err != nil {
		return err
	}
	rec.Flush()
	return rec.LastError()
}

func runRemove(ctx context.Context, client *listclient.Client, logger *slog.Logger, args []string) error {
	if len(args) != 2 {
		return errors.New("remove needs a list id and an item id")
	}
	rec := reconcile.New(args[0], client, logger)
	if err := rec.Load(ctx); err != nil {
		return err
	}

	err := rec.DecrementQuantity(args[1])
	switch {
	case errors.Is(err, reconcile.ErrConfirmDelete):
		fmt.Print("quantity is 1, delete the item? [y/N]")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(line)) != "y" {
			fmt.Println("kept")
			return nil
		}
		if err := rec.ConfirmDelete(args[1]); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	rec.Flush()
	if err := rec.LastError(); err != nil {
		return err
	}
	fmt.Printf("total %.2f\n", rec.CurrentTotal())
	return nil
}

func runSave(ctx context.Context, client *listclient.Client, args []string) error {
	if len(args) != 2 {
		return errors.New("save needs a list id and a name")
	}
	list, err := client.Fetch(ctx, args[0])
	if err != nil {
		return err
	}
	if list == nil {
		return errors.New("list not found")
	}
	saved, err := client.SaveToHistory(ctx, args[1], list.Items)
	if err != nil {
		return err
	}
	fmt.Printf("saved %q (%d items, total %.2f)\n", saved.Name, len(saved.Items), saved.Total)
	return nil
}

func runWatch(ctx context.Context, client *listclient.Client, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("watch needs a list id")
	}
	rec := reconcile.New(args[0], client, logger)
	if err := rec.Load(ctx); err != nil {
		return err
	}
	printList(rec)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client.Subscribe(ctx, args[0], func(snap websocket.Snapshot) {
		rec.ApplyRemoteSnapshot(snap)
		fmt.Println("---")
		printList(rec)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	return nil
}

func printList(rec *reconcile.Reconciler) {
	items := rec.Items()
	if len(items) == 0 {
		fmt.Println("(empty list)")
		return
	}
	for _, it := range items {
		mark := " "
		if it.Checked {
			mark = "x"
		}
		fmt.Printf("[%s] %-30s %3dx %8.2f  %s\n", mark, it.Name, it.Quantity, it.Price, it.ID)
	}
	fmt.Printf("total %.2f\n", rec.CurrentTotal())
}
