package analyzer_test

import (
	"testing"

	"github.com/arashen/durable/analyzer"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/analysis/analysistest"
)

func TestAnalyzer_Metadata(t *testing.T) {
	require.Equal(t, "durable", analyzer.Analyzer.Name)
	require.NotEmpty(t, analyzer.Analyzer.Doc)
	require.NotEmpty(t, analyzer.Analyzer.Requires)
}

func TestAnalyzer(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), analyzer.Analyzer, "a")
}
