package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/chunker"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/tokenizer"
)

var sampleTexts = map[string]string{
	"short": "A grizzly bear survives the winter in the wilderness",
	"medium": `A retired detective returns to the small coastal town where he grew up.
        When a fisherman disappears during a storm, old rivalries resurface. The
        investigation leads him through abandoned canneries and a lighthouse that
        has been dark for twenty years. Nobody in town wants the past uncovered.`,
	"long": strings.Repeat(`Robots fight for control of a distant moon while a lone pilot
        races to warn the fleet. Meanwhile on earth, engineers argue over whether the
        signal is a distress call or a trap. The council votes to launch anyway. `, 20),
}

func BenchmarkNormalize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = tokenizer.Normalize(text)
			}
		})
	}
}

func BenchmarkNormalizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = tokenizer.Normalize(text)
		}
	})
}

func BenchmarkStem(b *testing.B) {
	words := []string{
		"running", "survives", "searching", "wilderness",
		"investigation", "abandoned", "relational",
		"engineers", "distress", "fighting",
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, w := range words {
			_ = tokenizer.Stem(w)
		}
	}
}

func BenchmarkNormalizeVaryingSize(b *testing.B) {
	baseWord := "grizzly bears roam the frozen wilderness "
	for _, size := range []int{10, 100, 500, 1000, 5000} {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = tokenizer.Normalize(text)
			}
		})
	}
}

func BenchmarkBySentence(b *testing.B) {
	text := sampleTexts["long"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		_ = chunker.BySentence(text, 4, 1)
	}
}
