package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"brfportal.se/internal/isocheck"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("BRF_PG_DSN"), "PostgreSQL DSN")
		coops   = flag.String("coops", "coop-alpha,coop-beta", "Comma-separated cooperative ids to probe")
		asJSON  = flag.Bool("json", false, "Emit the full report as JSON")
		timeout = flag.Duration("timeout", 60*time.Second, "Overall run timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or BRF_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	tenants, err := loadTenants(ctx, db, strings.Split(*coops, ","))
	if err != nil {
		log.Fatalf("load tenants: %v", err)
	}

	h, err := isocheck.New(db, tenants)
	if err != nil {
		log.Fatalf("harness: %v", err)
	}
	report, err := h.Run(ctx)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		for _, c := range report.Categories {
			fmt.Printf("%-22s %d/%d passed, %d leaks (%s)\n",
				c.Category, c.Passed, c.Total, c.Leaks, c.Elapsed.Round(time.Millisecond))
		}
		for _, r := range report.Results {
			if !r.Passed {
				fmt.Printf("FAIL %s/%s: %s\n", r.Category, r.Name, r.Error)
			}
		}
	}

	if !report.Passed {
		log.Fatalf("isolation check failed: %d failures, %d leaks", report.Failures, report.Leaks)
	}
	fmt.Printf("isolation check passed: %d probes in %s\n",
		len(report.Results), report.Elapsed.Round(time.Millisecond))
}

// loadTenants pulls member and document ids for each cooperative so the
// cross-tenant probes have concrete foreign targets.
func loadTenants(ctx context.Context, db *sql.DB, coopIDs []string) ([]isocheck.Tenant, error) {
	var tenants []isocheck.Tenant
	for _, id := range coopIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		t := isocheck.Tenant{CooperativeID: id}
		var err error
		t.MemberIDs, err = idsOf(ctx, db, `select id from members where cooperative_id = $1 and deleted_at is null order by id`, id)
		if err != nil {
			return nil, err
		}
		t.DocumentIDs, err = idsOf(ctx, db, `select id from documents where cooperative_id = $1 and deleted_at is null order by id`, id)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, nil
}

func idsOf(ctx context.Context, db *sql.DB, query, coopID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, coopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
