package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/expert-router/internal/bootstrap"
	"github.com/kirillkom/expert-router/internal/config"
	"github.com/kirillkom/expert-router/internal/core/domain"
	"github.com/kirillkom/expert-router/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()

	setPath := flag.String("set", "./data/eval_set.yaml", "labeled query set: YAML mapping expert -> sample queries")
	jsonOut := flag.Bool("json", false, "emit the report as JSON instead of text")
	flag.Parse()

	cfg := config.Load()
	logging.Setup("evaluate", cfg.LogLevel)

	set, err := loadEvalSet(*setPath)
	if err != nil {
		log.Fatalf("load eval set: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewEvaluator(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}

	report, err := app.EvalUC.Evaluate(ctx, set)
	if err != nil {
		log.Fatalf("evaluate error: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatalf("encode report: %v", err)
		}
		return
	}
	printReport(report)
}

func loadEvalSet(path string) (domain.EvalSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var set domain.EvalSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%s holds no labeled queries", path)
	}
	return set, nil
}

func printReport(report *domain.EvalReport) {
	fmt.Printf("overall: %d/%d (%.1f%%)\n\n", report.Correct, report.Total, report.Accuracy()*100)

	experts := make([]string, 0, len(report.Experts))
	for name := range report.Experts {
		experts = append(experts, name)
	}
	sort.Strings(experts)

	fmt.Printf("%-30s %8s %8s %10s\n", "expert", "correct", "total", "accuracy")
	for _, name := range experts {
		e := report.Experts[name]
		fmt.Printf("%-30s %8d %8d %9.1f%%\n", name, e.Correct, e.Total, e.Accuracy()*100)
	}

	var confused bool
	for _, name := range experts {
		e := report.Experts[name]
		if len(e.Confusions) == 0 {
			continue
		}
		if !confused {
			fmt.Printf("\nconfusions:\n")
			confused = true
		}
		actuals := make([]string, 0, len(e.Confusions))
		for actual := range e.Confusions {
			actuals = append(actuals, actual)
		}
		sort.Strings(actuals)
		for _, actual := range actuals {
			fmt.Printf("  %s -> %s: %d\n", name, actual, e.Confusions[actual])
		}
	}
}
