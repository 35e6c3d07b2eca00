// Copyright 2026 Firefly Software Solutions Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// firefly-pipeline is a small CLI for exercising the pipeline engine:
// it runs a demo DAG and prints the aggregated result as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fireflyframework/genai/pipeline"
	"github.com/fireflyframework/genai/pipeline/steps"
	"github.com/fireflyframework/genai/pkg/logging"
	"github.com/fireflyframework/genai/telemetry"
)

var (
	flagLogLevel  string
	flagJSONLogs  bool
	flagTelemetry bool

	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "firefly-pipeline",
	Short: "Run and inspect Firefly pipeline graphs",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(flagLogLevel),
			Service: "pipeline-cli",
			JSON:    flagJSONLogs,
		})
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo [input text]",
	Short: "Run a diamond-shaped demo pipeline and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if flagTelemetry {
			cfg := telemetry.DefaultConfig()
			cfg.TraceExporter = "stdout"
			cfg.MetricExporter = "stdout"
			shutdown, err := telemetry.Init(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Warn("telemetry shutdown", "error", err.Error())
				}
			}()
		}

		input := "hello pipeline"
		if len(args) > 0 {
			input = strings.Join(args, " ")
		}

		engine, err := buildDemoPipeline()
		if err != nil {
			return fmt.Errorf("build pipeline: %w", err)
		}

		result, err := engine.RunWithInputs(ctx, input)
		if err != nil {
			return fmt.Errorf("run pipeline: %w", err)
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if !result.Success {
			return fmt.Errorf("pipeline failed: %v", result.FailedNodes())
		}
		return nil
	},
}

// buildDemoPipeline assembles a diamond: normalize fans out to reverse
// and shout, which merge back into a summary node.
func buildDemoPipeline() (*pipeline.Engine, error) {
	normalize := pipeline.StepFunc(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
		text, _ := inputs["input"].(string)
		return strings.TrimSpace(strings.ToLower(text)), nil
	})

	reverse := pipeline.StepFunc(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
		text, _ := inputs["input"].(string)
		runes := []rune(text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	})

	shout := pipeline.StepFunc(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
		text, _ := inputs["input"].(string)
		return strings.ToUpper(text), nil
	})

	summarize := steps.NewFanInStep(func(ctx context.Context, pc *pipeline.Context, values []any) (any, error) {
		parts := make([]string, 0, len(values))
		for _, v := range values {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		return strings.Join(parts, " | "), nil
	})

	return pipeline.NewBuilder("demo").
		AddNode("normalize", normalize).
		AddNode("reverse", reverse, pipeline.WithRetryMax(1), pipeline.WithBackoff(100*time.Millisecond)).
		AddNode("shout", shout).
		AddNode("summarize", summarize).
		AddEdge("normalize", "reverse").
		AddEdge("normalize", "shout").
		AddEdge("reverse", "summarize", pipeline.WithInputKey("reversed")).
		AddEdge("shout", "summarize", pipeline.WithInputKey("shouted")).
		Build(pipeline.WithLogger(logger.Slog()))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "emit logs as JSON")
	demoCmd.Flags().BoolVar(&flagTelemetry, "telemetry", false, "enable stdout trace and metric exporters")
	rootCmd.AddCommand(demoCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
