package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"gorm.io/gorm"

	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/course"
	"github.com/linetrace/simulator/internal/database"
	"github.com/linetrace/simulator/internal/script"
	gormstorage "github.com/linetrace/simulator/internal/storage/gorm"
	"github.com/linetrace/simulator/internal/storage/memory"
	"github.com/linetrace/simulator/pkg/core"
)

var sqlitePath = flag.String("sqlite", "", "Read getjson runs from this SQLite file instead of Postgres")

func validateScripts(w io.Writer, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no script files provided")
	}
	var failed int
	for _, path := range paths {
		s, err := script.Load(path)
		if err == nil {
			err = printSummary(w, path, s)
		}
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts invalid", failed, len(paths))
	}
	return nil
}

func printSummary(w io.Writer, path string, s *script.Script) error {
	plan, err := script.Compile(s)
	if err != nil {
		return err
	}
	c := course.New(plan.Points...)
	fmt.Fprintf(w, "%s: ok, %d points, %d segments, %.1f m, %d spawns\n",
		path, c.Len(), max(c.Len()-1, 0), c.Length(), len(plan.Spawns))
	return nil
}

func shareScripts(w io.Writer, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no script files provided")
	}
	for _, path := range paths {
		s, err := script.Load(path)
		if err != nil {
			return err
		}
		if err := script.Validate(s); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		code, err := script.Encode(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, code)
	}
	return nil
}

func openRunDB() (*gorm.DB, error) {
	if *sqlitePath != "" {
		return database.GetSqliteDB(*sqlitePath)
	}
	db, err := database.GetPostgresDB(config.GetDBConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	return db, nil
}

func getJSON(w io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("no run IDs provided")
	}
	db, err := openRunDB()
	if err != nil {
		return err
	}
	cfg := config.GetStorageConfig().Memory
	cfg.Format = memory.FormatJSON
	return exportRuns(w, db, args, cfg)
}

// exportRuns replays every stored run into a memory backend, which writes
// the export file. Unfinished runs are closed at their last recorded tick.
func exportRuns(w io.Writer, db *gorm.DB, ids []string, cfg config.MemoryConfig) error {
	for _, arg := range ids {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run ID %q: %w", arg, err)
		}

		data, err := gormstorage.LoadRun(db, uint(id))
		if err != nil {
			return err
		}

		mem := memory.New(cfg)
		if err := data.Replay(mem); err != nil {
			return fmt.Errorf("run %d: %w", id, err)
		}
		if !data.Finished {
			if err := mem.EndRun(lastRecorded(data)); err != nil {
				return fmt.Errorf("run %d: %w", id, err)
			}
		}
		fmt.Fprintf(w, "run %d: %s\n", id, mem.GetExportedFilePath())
	}
	return nil
}

func lastRecorded(d *gormstorage.RunData) core.RunEnd {
	end := core.RunEnd{
		EndTime: d.Run.StartTime,
		Spawned: uint64(len(d.Vehicles)),
		Removed: uint64(len(d.Removals)),
	}
	note := func(tick uint64) {
		if tick > end.Ticks {
			end.Ticks = tick
		}
	}
	for _, s := range d.States {
		note(s.Tick)
		if s.Time.After(end.EndTime) {
			end.EndTime = s.Time
		}
	}
	for _, r := range d.Removals {
		note(r.Tick)
	}
	for _, p := range d.Performances {
		note(p.Tick)
	}
	return end
}
