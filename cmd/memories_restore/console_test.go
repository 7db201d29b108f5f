package main

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"memories_restore/internal/service"
)

func TestPrintSummaryKeepsLineColors(t *testing.T) {
	for _, state := range []service.RunState{service.Completed, service.CompletedWithErrors, service.Stopped} {
		printSummary(service.Summary{State: state})
	}

	assert.True(t, okColor.Equals(color.New(color.FgGreen)))
	assert.True(t, failColor.Equals(color.New(color.FgRed)))
	assert.True(t, cancelColor.Equals(color.New(color.FgMagenta)))
}

func TestSummaryColor(t *testing.T) {
	assert.True(t, summaryColor(service.Completed).Equals(color.New(color.FgGreen, color.Bold)))
	assert.True(t, summaryColor(service.CompletedWithErrors).Equals(color.New(color.FgRed, color.Bold)))
	assert.True(t, summaryColor(service.Stopped).Equals(color.New(color.FgMagenta, color.Bold)))
}
