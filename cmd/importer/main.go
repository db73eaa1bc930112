// Command importer loads a CSV or JSON export into the configured store
// without going through a running server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/export"
	"github.com/hvacdash/hvacdash/pkg/logging"
	"github.com/hvacdash/hvacdash/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	format := flag.String("format", "", "csv or json (default: from the file extension)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] [-format csv|json] <export-file|->\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if _, err := logging.Init(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		logrus.Fatalf("Failed to initialize logging: %v", err)
	}

	result, err := run(cfg, flag.Arg(0), *format, logging.Logger)
	if result != nil {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		logging.Component("importer").WithError(err).Error("Import failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, path, format string, logger logrus.FieldLogger) (*export.ImportResult, error) {
	format, err := detectFormat(path, format)
	if err != nil {
		return nil, err
	}

	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}

	store, err := server.InitializeStorage(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	im := export.NewImporter(store, logger)
	if format == "json" {
		return im.ImportFromJSON(ctx, in)
	}
	return im.ImportFromCSV(ctx, in)
}

func detectFormat(path, format string) (string, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			format = "json"
		default:
			format = "csv"
		}
	}
	format = strings.ToLower(format)
	if format != "csv" && format != "json" {
		return "", fmt.Errorf("unsupported format %q (use csv or json)", format)
	}
	return format, nil
}
