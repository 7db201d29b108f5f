package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"memories_restore/internal/service"
)

var (
	okColor     = color.New(color.FgGreen)
	skipColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
	cancelColor = color.New(color.FgMagenta)
	dimColor    = color.New(color.Faint)
)

// console prints per-item outcome lines. Messages from workers interleave,
// so writes are serialized.
type console struct {
	mu      sync.Mutex
	verbose bool
}

func newConsole(verbose bool) *console {
	return &console{verbose: verbose}
}

func (c *console) observer() service.Observer {
	obs := service.Observer{OnResult: c.result}
	if c.verbose {
		obs.OnMessage = c.message
	}
	return obs
}

func (c *console) message(index int, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dimColor.Printf("    [%d] %s\n", index, msg)
}

func (c *console) result(r service.ItemResult, completed, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for _, p := range r.Paths {
		names = append(names, filepath.Base(p))
	}
	line := fmt.Sprintf("[%d/%d] #%d %s", completed, total, r.Index, r.Message)
	if len(names) > 0 {
		line += ": " + strings.Join(names, ", ")
	}
	if r.Err != nil && r.Status == service.StatusFailed {
		line += fmt.Sprintf(" (%v)", r.Err)
	}

	switch r.Status {
	case service.StatusSuccess:
		okColor.Println("✓ " + line)
	case service.StatusSkipped:
		skipColor.Println("- " + line)
	case service.StatusFailed:
		failColor.Println("✗ " + line)
	default:
		cancelColor.Println("■ " + line)
	}
}

// summaryColor returns a fresh bold color so the shared line colors keep
// their plain attributes.
func summaryColor(state service.RunState) *color.Color {
	attr := color.FgGreen
	switch state {
	case service.CompletedWithErrors:
		attr = color.FgRed
	case service.Stopped:
		attr = color.FgMagenta
	}
	return color.New(attr, color.Bold)
}

func printSummary(s service.Summary) {
	fmt.Println()
	summaryColor(s.State).Println(s.State.String())
	fmt.Printf("  succeeded: %d\n  skipped:   %d\n  failed:    %d\n  cancelled: %d\n  output:    %s\n",
		s.Succeeded, s.Skipped, s.Failed, s.Cancelled, s.OutputDir)
}
