package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/flatdario/flat/app/cfg"
	"github.com/flatdario/flat/app/push"
)

var options cfg.Options

type Collect struct {
	Update bool `short:"u" long:"update" description:"Refresh items that are already stored instead of stopping at the first one"`
}

func (c *Collect) Execute(args []string) error {
	rt, err := newEnv()
	if err != nil {
		return err
	}
	return rt.collect(c.Update)
}

type Enrich struct{}

func (e *Enrich) Execute(args []string) error {
	rt, err := newEnv()
	if err != nil {
		return err
	}
	defer rt.close()
	return rt.enrich()
}

type Build struct{}

func (b *Build) Execute(args []string) error {
	rt, err := newEnv()
	if err != nil {
		return err
	}
	defer rt.close()
	return rt.build()
}

type Add struct {
	Positional struct {
		URLs []string `positional-arg-name:"URL" required:"yes"`
	} `positional-args:"yes"`
}

func (a *Add) Execute(args []string) error {
	rt, err := newEnv()
	if err != nil {
		return err
	}
	defer rt.close()
	return rt.add(a.Positional.URLs)
}

type Serve struct{}

func (s *Serve) Execute(args []string) error {
	rt, err := newEnv()
	if err != nil {
		return err
	}
	defer rt.close()
	return rt.serve()
}

type Notify struct {
	Message string `short:"m" long:"message" description:"Send this announcement to every subscriber instead of the pending items"`
	Title   string `long:"title" default:"Flat" description:"Title of the announcement"`
	URL     string `long:"url" description:"Link opened by the announcement"`
}

func (n *Notify) Execute(args []string) error {
	rt, err := newEnv()
	if err != nil {
		return err
	}
	defer rt.close()

	if n.Message != "" {
		return rt.announce(push.Notification{Title: n.Title, Body: n.Message, URL: n.URL})
	}
	return rt.notify()
}

type Version struct{}

func (v *Version) Execute(args []string) error {
	fmt.Println(cfg.GetVersion())
	return nil
}

func main() {
	parser := flags.NewParser(&options, flags.Default)

	parser.AddCommand("collect", "Collect items", "Run every configured collector, then enrich the new items", &Collect{})
	parser.AddCommand("enrich", "Enrich items", "Resolve missing thumbnails and titles", &Enrich{})
	parser.AddCommand("build", "Build site", "Write items.json and feed.xml to the output directory", &Build{})
	parser.AddCommand("add", "Add URLs", "Store one or more URLs as manual items", &Add{})
	parser.AddCommand("serve", "Serve API", "Serve the HTTP API and collect periodically", &Serve{})
	parser.AddCommand("notify", "Send notifications", "Push the items each subscriber has not been notified of", &Notify{})
	parser.AddCommand("version", "Show version", "Display version information", &Version{})

	parser.CommandHandler = func(command flags.Commander, args []string) error {
		setupLogging(options.Debug)
		return command.Execute(args)
	}

	if _, err := parser.Parse(); err != nil {
		if flagErr, ok := err.(*flags.Error); ok {
			if flagErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
