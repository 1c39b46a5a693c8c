// Command frame-client pushes one image through the detection API's frame
// endpoint and writes the annotated result next to it.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"detect-web/common/config"
	"detect-web/service"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: frame-client <image.jpg> [confidence%] [tracker]")
		os.Exit(2)
	}
	input := os.Args[1]

	var confidence, tracker string
	if len(os.Args) > 2 {
		confidence = os.Args[2]
	}
	if len(os.Args) > 3 {
		tracker = os.Args[3]
	}
	params, err := config.ParseParams(confidence, tracker)
	if err != nil {
		fmt.Printf("Invalid parameters: %v\n", err)
		os.Exit(2)
	}

	cfg := config.DefaultConfig()
	if rejected := cfg.ApplyEnv(os.LookupEnv); len(rejected) > 0 {
		fmt.Printf("Ignoring invalid environment: %s\n", strings.Join(rejected, ", "))
	}

	data, err := os.ReadFile(input)
	if err != nil {
		fmt.Printf("Failed to read %s: %v\n", input, err)
		os.Exit(1)
	}

	client := service.NewDetectionClient(cfg.BackendURL, cfg.BackendTimeout.Std(), cfg.FrameTimeout.Std())
	out, err := client.DetectFrame(context.Background(), data, params)
	if err != nil {
		fmt.Printf("❌ Frame detection failed: %v\n", err)
		fmt.Printf("Make sure the detection backend is reachable at %s\n", client.BaseURL())
		os.Exit(1)
	}

	ext := filepath.Ext(input)
	output := strings.TrimSuffix(input, ext) + "_detected.jpg"
	if err := os.WriteFile(output, out, 0644); err != nil {
		fmt.Printf("Failed to write %s: %v\n", output, err)
		os.Exit(1)
	}
	fmt.Printf("✅ Annotated frame (%d bytes, conf=%s, tracker=%q) written to %s\n",
		len(out), params.ConfString(), params.Tracker, output)
}
