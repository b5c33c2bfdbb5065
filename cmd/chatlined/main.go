package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/nullchat/chatlined/internal/chatserver"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "chatlined"
	myApp.Usage = "line-oriented TCP chat server"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: "0.0.0.0:6567",
			Usage: "listen address, eg: \"0.0.0.0:6567\"",
		},
		cli.IntFlag{
			Name:  "maxconnections",
			Value: chatserver.DefaultMaxConnections,
			Usage: "maximum number of simultaneously connected clients",
		},
		cli.IntFlag{
			Name:  "maxlinebytes",
			Value: 0,
			Usage: "maximum bytes buffered for one unterminated line before the connection is dropped; 0 uses the built-in default",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect periodic connection/user/room counts to file, aware of timeformat in golang, like: ./stats-20060102.csv",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collection period, in seconds",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-connection accept logging",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when set, the JSON file must exist on disk
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Listen = c.String("listen")
		config.MaxConnections = c.Int("maxconnections")
		config.MaxLineBytes = c.Int("maxlinebytes")
		config.Log = c.String("log")
		config.StatsLog = c.String("statslog")
		config.StatsPeriod = c.Int("statsperiod")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		instanceID := uuid.New()
		log.Println("version:", VERSION)
		log.Println("instance:", instanceID)
		log.Println("listening on:", config.Listen)
		log.Println("max connections:", config.MaxConnections)
		log.Println("statslog:", config.StatsLog)
		log.Println("statsperiod:", config.StatsPeriod)
		log.Println("quiet:", config.Quiet)

		srv, err := chatserver.New(chatserver.Config{
			ListenAddr:     config.Listen,
			MaxConnections: config.MaxConnections,
			MaxLineBytes:   config.MaxLineBytes,
			Quiet:          config.Quiet,
		}, log.Default())
		if err != nil {
			color.Red("failed to start: %v", err)
			return err
		}

		stats := chatserver.NewStatsReporter(
			config.StatsLog,
			time.Duration(config.StatsPeriod)*time.Second,
			srv,
			log.Default(),
		)
		stats.Start()
		defer stats.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			log.Println("received signal, shutting down:", sig)
			if err := srv.Close(); err != nil {
				log.Printf("shutdown: %v", err)
			}
		}()

		return srv.Run()
	}

	myApp.Run(os.Args)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
