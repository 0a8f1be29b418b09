package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/config"
	"github.com/mikey/satellite-change-detector/internal/core"
	"github.com/mikey/satellite-change-detector/internal/di"
)

var (
	// Input flags
	beforeFile = flag.String("before", "", "Path to the earlier scene payload")
	afterFile  = flag.String("after", "", "Path to the later scene payload")
	pairsFile  = flag.String("pairs", "", "Path to a batch manifest (one 'before after' pair per line)")
	bboxFlag   = flag.String("bbox", "", "Geographic bounding box as minLon,minLat,maxLon,maxLat")
	preview    = flag.String("preview", "", "Write an RGB composite of the before scene to this path")
	outFile    = flag.String("out", "", "Write the JSON result to this file instead of stdout")

	// Detection flags
	tileSize      = flag.Int("tile-size", 512, "Tile size scenes are normalized to")
	minRegionArea = flag.Float64("min-area", 50.0, "Minimum region area in pixels")
	batchLimit    = flag.Int("batch-limit", 4, "Concurrent pair limit for batch runs")
	contamination = flag.Float64("contamination", 0.05, "Expected anomalous pixel fraction")
	seed          = flag.Int64("seed", 42, "Anomaly scorer random seed")
	cacheEnabled  = flag.Bool("cache", true, "Enable the result cache")
	artifactDir   = flag.String("artifact-dir", "static/masks", "Directory for mask artifacts")

	// Logging flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Use config file discovery instead of command line flags")
)

func main() {
	flag.Parse()

	container, err := buildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// buildContainer picks the container for the run: file-driven configuration
// with the structured logger when -config is given, console logging with
// flag-assembled configuration otherwise.
func buildContainer() (*dig.Container, error) {
	if *configFile != "" {
		return di.BuildContainer()
	}
	return di.BuildCLIContainer(&di.CLIFlags{
		TileSize:      *tileSize,
		MinRegionArea: *minRegionArea,
		BatchLimit:    *batchLimit,
		Contamination: *contamination,
		Seed:          *seed,
		CacheEnabled:  *cacheEnabled,
		ArtifactDir:   *artifactDir,
		Verbose:       *verbose,
		JSONLog:       *jsonLog,
	})
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	service *core.DetectionService,
	decoder core.SceneDecoder,
	cacheRepo core.CacheRepository,
) error {
	defer logger.Sync()
	ctx := context.Background()

	if used := cfg.GetViper().ConfigFileUsed(); used != "" {
		logger.Info("Loaded configuration from file", zap.String("file", used))
	}

	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		return err
	}

	var output interface{}
	switch {
	case *pairsFile != "":
		pairs, err := readPairs(*pairsFile)
		if err != nil {
			return err
		}
		items := service.DetectBatch(ctx, pairs, bbox)
		results := make([]map[string]interface{}, len(items))
		for i, item := range items {
			if item.Err != nil {
				results[i] = map[string]interface{}{"error": item.Err.Error()}
				continue
			}
			results[i] = map[string]interface{}{"result": item.Result}
		}
		output = results

	case *beforeFile != "" && *afterFile != "":
		before, err := os.ReadFile(*beforeFile)
		if err != nil {
			return fmt.Errorf("failed to read before scene: %w", err)
		}
		after, err := os.ReadFile(*afterFile)
		if err != nil {
			return fmt.Errorf("failed to read after scene: %w", err)
		}

		if *preview != "" {
			if err := writePreview(ctx, decoder, before, bbox, *preview); err != nil {
				logger.Warn("Failed to render preview", zap.Error(err))
			}
		}

		result, err := service.Detect(ctx, before, after, bbox)
		if err != nil {
			return fmt.Errorf("detection failed: %w", err)
		}
		output = result

	default:
		return fmt.Errorf("either -before/-after or -pairs is required")
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if *outFile != "" {
		if err := os.WriteFile(*outFile, encoded, 0o644); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	} else {
		fmt.Println(string(encoded))
	}

	// Stop the cache if needed
	if stopper, ok := cacheRepo.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	return nil
}

// parseBBox parses "minLon,minLat,maxLon,maxLat". An empty flag yields the
// zero box, letting the service fall back to the configured default.
func parseBBox(s string) (core.GeoBBox, error) {
	if s == "" {
		return core.GeoBBox{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.GeoBBox{}, fmt.Errorf("bbox must have 4 components, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.GeoBBox{}, fmt.Errorf("invalid bbox component %q: %w", p, err)
		}
		vals[i] = v
	}
	return core.GeoBBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}, nil
}

// readPairs reads a batch manifest with one whitespace-separated
// "before after" path pair per line. Blank lines and #-comments are skipped.
func readPairs(path string) ([]core.ScenePair, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pairs manifest: %w", err)
	}
	defer file.Close()

	var pairs []core.ScenePair
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed manifest line: %q", line)
		}
		before, err := os.ReadFile(fields[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fields[0], err)
		}
		after, err := os.ReadFile(fields[1])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fields[1], err)
		}
		pairs = append(pairs, core.ScenePair{Before: before, After: after})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pairs manifest: %w", err)
	}
	return pairs, nil
}

func writePreview(ctx context.Context, decoder core.SceneDecoder, payload []byte, bbox core.GeoBBox, path string) error {
	renderer, ok := decoder.(interface {
		RenderPreview(*core.Scene) ([]byte, error)
	})
	if !ok {
		return fmt.Errorf("decoder does not support previews")
	}
	scene, err := decoder.Decode(ctx, payload, bbox)
	if err != nil {
		return err
	}
	png, err := renderer.RenderPreview(scene)
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}
