package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/db"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|to|create|validate")
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	name := flag.String("name", "", "migration name for -cmd=create")
	target := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	var source fs.FS
	if *dir != "" {
		source = os.DirFS(*dir)
	} else {
		source = migrate.Migrations()
	}

	switch *cmd {
	case "create":
		outDir := *dir
		if outDir == "" {
			outDir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(outDir, *name, time.Now())
		exitOn(err, "create migration")
		fmt.Println("created", path)
		return
	case "validate":
		exitOn(migrate.Validate(source), "validate migrations")
		fmt.Println("migrations valid")
		return
	}

	cfg, err := config.Load()
	exitOn(err, "load config")
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})
	if cfg.DB.IsSQLite() {
		exitOn(fmt.Errorf("sqlite schemas are built from the models with RETAIL_AUTO_MIGRATE"), "migrate")
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(err, "connect database")
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	exitOn(err, "sql handle")

	migrator, err := migrate.New(sqlDB, source)
	exitOn(err, "build migrator")

	switch *cmd {
	case "up":
		applied, err := migrator.Up(ctx)
		exitOn(err, "migrate up")
		logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied")
	case "down":
		exitOn(migrator.Down(ctx), "migrate down")
		logg.Info(ctx, "rolled back one migration")
	case "version":
		version, err := migrator.Version(ctx)
		exitOn(err, "read version")
		fmt.Println(version)
	case "to":
		version, err := migrate.ParseVersion(*target)
		exitOn(err, "parse -version")
		exitOn(migrator.MigrateTo(ctx, version), "migrate to version")
		logg.Info(logg.WithField(ctx, "version", version), "schema at requested version")
	case "status":
		statuses, err := migrator.Status(ctx)
		exitOn(err, "read status")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
		for _, st := range statuses {
			applied := "pending"
			if st.Applied {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", st.Version, applied, st.Path)
		}
		_ = w.Flush()
	default:
		exitOn(fmt.Errorf("unknown -cmd %q", *cmd), "migrate")
	}
}

func exitOn(err error, step string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
