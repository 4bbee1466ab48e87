// Command picodb_cli administers PicoDB databases: initialization, header
// inspection, file repair, and an interactive page-inspection shell.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/picodb/core/fsm"
	storageengine "github.com/sushant-115/picodb/core/storage_engine"
	"github.com/sushant-115/picodb/core/write_engine/binlog"
	bufferpool "github.com/sushant-115/picodb/core/write_engine/buffer_pool"
	pagemanager "github.com/sushant-115/picodb/core/write_engine/page_manager"
	"github.com/sushant-115/picodb/internal/appdir"
	internaltelemetry "github.com/sushant-115/picodb/internal/telemetry"
	"github.com/sushant-115/picodb/pkg/logger"
	"github.com/sushant-115/picodb/pkg/telemetry"
)

// CLI defines the command-line interface for picodb_cli.
var CLI struct {
	Dir         string `help:"Database directory (defaults to the per-user application-data directory)." type:"path"`
	LogLevel    string `name:"log-level" help:"Log level (debug, info, warn, error)." default:"warn"`
	MetricsPort int    `name:"metrics-port" help:"Expose Prometheus metrics on this port (0 disables telemetry)." default:"0"`

	Init    InitCmd     `cmd:"" help:"Initialize a new database."`
	Config  ConfigGroup `cmd:"" help:"Inspect database configuration."`
	Fix     FixCmd      `cmd:"" help:"Truncate a torn trailing partial page."`
	Rebuild RebuildCmd  `cmd:"" help:"Rewrite the data file page by page."`
	Move    MoveCmd     `cmd:"" help:"Move the database directory."`
	Upgrade UpgradeCmd  `cmd:"" help:"Check and upgrade the on-disk format."`
	Log     LogCmd      `cmd:"" help:"Print the binary log."`
	Shell   ShellCmd    `cmd:"" help:"Interactive page-inspection shell."`
}

// ConfigGroup contains configuration inspection commands.
type ConfigGroup struct {
	Get ConfigGetCmd `cmd:"" help:"Print a configuration value from the data-file header."`
}

// cliContext carries resolved globals into command Run methods.
type cliContext struct {
	dir     string
	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

type InitCmd struct {
	PageSizeKB int  `name:"page-size-kb" help:"Page size in KiB." default:"64"`
	Overwrite  bool `help:"Replace an existing database directory."`
}

func (c *InitCmd) Run(ctx *cliContext) error {
	if err := storageengine.Create(c.PageSizeKB, ctx.dir, c.Overwrite); err != nil {
		return err
	}
	fmt.Printf("Initialized database at %s (page size %d KiB)\n", ctx.dir, c.PageSizeKB)
	return nil
}

type ConfigGetCmd struct {
	Key string `arg:"" optional:"" help:"Configuration key (page_size)."`
}

func (c *ConfigGetCmd) Run(ctx *cliContext) error {
	metadata, err := storageengine.GetMetadata(ctx.dir)
	if err != nil {
		return err
	}
	switch c.Key {
	case "", "page_size":
		fmt.Printf("page_size = %d\n", metadata.PageSize)
	default:
		return fmt.Errorf("unknown configuration key %q", c.Key)
	}
	return nil
}

type FixCmd struct{}

func (c *FixCmd) Run(ctx *cliContext) error {
	removed, err := storageengine.Fix(ctx.dir)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Println("Data file is page-aligned, nothing to fix.")
	} else {
		fmt.Printf("Truncated %d bytes of torn trailing page.\n", removed)
	}
	return nil
}

type RebuildCmd struct{}

func (c *RebuildCmd) Run(ctx *cliContext) error {
	if err := storageengine.Rebuild(ctx.dir); err != nil {
		return err
	}
	fmt.Println("Rebuilt data file.")
	return nil
}

type MoveCmd struct {
	Dest string `arg:"" help:"Destination directory." type:"path"`
}

func (c *MoveCmd) Run(ctx *cliContext) error {
	if err := storageengine.Move(ctx.dir, c.Dest); err != nil {
		return err
	}
	fmt.Printf("Moved database to %s\n", c.Dest)
	return nil
}

type UpgradeCmd struct{}

func (c *UpgradeCmd) Run(ctx *cliContext) error {
	metadata, err := storageengine.GetMetadata(ctx.dir)
	if err != nil {
		return err
	}
	// There is a single on-disk format so far; a valid header means the
	// database is current.
	fmt.Printf("Database at %s is already at the current format (page size %d).\n", ctx.dir, metadata.PageSize)
	return nil
}

type LogCmd struct{}

func (c *LogCmd) Run(ctx *cliContext) error {
	records, err := binlog.ReadAll(filepath.Join(ctx.dir, storageengine.BinlogFileName))
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Printf("%s  %-8s  page=%d  id=%s\n",
			time.Unix(0, record.Timestamp).Format(time.RFC3339Nano),
			record.Type, record.PageID, record.ID)
	}
	fmt.Printf("%d record(s)\n", len(records))
	return nil
}

type ShellCmd struct {
	PoolSize int `name:"pool-size" help:"Buffer pool capacity in pages." default:"64"`
}

func (c *ShellCmd) Run(ctx *cliContext) error {
	sm, err := storageengine.Open(ctx.dir, ctx.logger, ctx.metrics)
	if err != nil {
		return err
	}
	defer sm.Close()

	pool, err := bufferpool.NewBufferPoolManager(c.PoolSize, sm, ctx.logger, ctx.metrics)
	if err != nil {
		return err
	}
	fsmAccessor := fsm.NewAccessor(pool, ctx.logger)

	rl, err := readline.New("picodb> ")
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("PicoDB shell. Database %s, page size %d. Type 'help' for commands.\n", ctx.dir, sm.PageSize())
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on ctrl-d, readline.ErrInterrupt on ctrl-c
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}
		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			break
		}
		if err := runShellCommand(args, sm, pool, fsmAccessor); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	return pool.FlushAll()
}

func runShellCommand(args []string, sm *storageengine.StorageManager, pool *bufferpool.BufferPoolManager, fsmAccessor *fsm.Accessor) error {
	switch args[0] {
	case "help":
		fmt.Println("Commands:")
		fmt.Println("  meta                      print header metadata")
		fmt.Println("  alloc                     allocate a new page")
		fmt.Println("  read <pageID>             hexdump the first bytes of a page")
		fmt.Println("  fsm get <pageID>          print the used-space percent of a page")
		fmt.Println("  fsm set <pageID> <pct>    record the used-space percent of a page")
		fmt.Println("  flush                     flush all dirty pages")
		fmt.Println("  exit / quit")
	case "meta":
		fmt.Printf("page_size = %d\n", sm.PageSize())
	case "alloc":
		_, pageID, err := pool.NewPage()
		if err != nil {
			return err
		}
		if err := pool.UnpinPage(pageID, true); err != nil {
			return err
		}
		fmt.Printf("allocated page %d\n", pageID)
	case "read":
		if len(args) != 2 {
			return fmt.Errorf("usage: read <pageID>")
		}
		pageID, err := parsePageID(args[1])
		if err != nil {
			return err
		}
		page, err := pool.FetchPage(pageID)
		if err != nil {
			return err
		}
		dump := page.GetData()
		if len(dump) > 64 {
			dump = dump[:64]
		}
		fmt.Printf("page %d: % x\n", pageID, dump)
		return pool.UnpinPage(pageID, false)
	case "fsm":
		if len(args) < 3 {
			return fmt.Errorf("usage: fsm get <pageID> | fsm set <pageID> <pct>")
		}
		pageID, err := parsePageID(args[2])
		if err != nil {
			return err
		}
		switch args[1] {
		case "get":
			pct, err := fsmAccessor.UsedSpacePercent(pageID)
			if err != nil {
				return err
			}
			fmt.Printf("page %d: %d%% used, %d bytes free\n", pageID, pct, fsmAccessor.FreeSpaceLeftBytes(pct))
		case "set":
			if len(args) != 4 {
				return fmt.Errorf("usage: fsm set <pageID> <pct>")
			}
			pct, err := strconv.ParseUint(args[3], 10, 8)
			if err != nil {
				return fmt.Errorf("invalid percent %q", args[3])
			}
			return fsmAccessor.SetUsedSpacePercent(pageID, uint8(pct))
		default:
			return fmt.Errorf("unknown fsm subcommand %q", args[1])
		}
	case "flush":
		return pool.FlushAll()
	default:
		return fmt.Errorf("unknown command %q, type 'help'", args[0])
	}
	return nil
}

func parsePageID(s string) (pagemanager.PageID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("invalid page id %q", s)
	}
	return pagemanager.PageID(id), nil
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("picodb"),
		kong.Description("Administer PicoDB single-file databases."),
	)

	dir := CLI.Dir
	if dir == "" {
		var err error
		if dir, err = appdir.DefaultDataDir(); err != nil {
			fatal(err)
		}
	}

	zapLogger := logger.New(CLI.LogLevel, "console")
	defer zapLogger.Sync()

	ctx := &cliContext{dir: dir, logger: zapLogger}
	if CLI.MetricsPort > 0 {
		meter, shutdown, err := telemetry.NewMeter(telemetry.Config{
			Enabled:        true,
			PrometheusPort: CLI.MetricsPort,
		})
		if err != nil {
			fatal(err)
		}
		defer shutdown(context.Background())
		if ctx.metrics, err = internaltelemetry.NewStorageMetrics(meter); err != nil {
			fatal(err)
		}
	}

	if err := kctx.Run(ctx); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "\x1b[31mFatal Error:\x1b[0m %v\n", err)
	os.Exit(1)
}
