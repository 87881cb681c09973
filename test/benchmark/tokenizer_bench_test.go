package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/tokenizer"
)

var sampleTexts = map[string]string{
	"short": "Fitting a Bezier simplex to the Pareto front",
	"medium": `A Bezier simplex is a high-dimensional generalisation of the Bezier
        curve. Given sampled points on a Pareto front, the fitting routine estimates
        control points so the simplex approximates the whole front. The trainer runs
        on any device supported by the tensor library and logs metrics per epoch.`,
	"long": strings.Repeat(`The configuration file names the data loader, the degree of
        the simplex and the optimiser settings. Meshes are generated by sampling the
        parameter space uniformly. Validation splits are drawn from the same
        distribution, and checkpoints are written after every epoch so training can
        resume. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				tokens := tokenizer.Tokenize(text)
				_ = tokens
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tokens := tokenizer.Tokenize(text)
			_ = tokens
		}
	})
}

func BenchmarkStemming(b *testing.B) {
	words := []string{
		"fitting", "approximation", "sampling", "training",
		"configuration", "optimizers", "generalisation",
		"validation", "checkpoints", "distribution",
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, w := range words {
			stem := tokenizer.Stem(w)
			_ = stem
		}
	}
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	sizes := []int{10, 100, 500, 1000, 5000}
	baseWord := "bezier simplex fitting sampled pareto front "
	for _, size := range sizes {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				tokens := tokenizer.Tokenize(text)
				_ = tokens
			}
		})
	}
}
