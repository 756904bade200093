// Package text implements the deterministic text partitioning stages of the
// audiobook pipeline: command-driven segmentation, sentence detection,
// synthesis-sized chunking and pre-synthesis normalization.
package text

import (
	"sort"

	"github.com/book-expert/audiobook-service/internal/core"
)

// SegmentChapter splits one chapter's text into ordered segments according to
// the chapter's positional commands. Concatenating the returned segments in
// order reproduces content exactly.
//
// Command positions are rune offsets and are assumed pre-validated at job
// creation; offsets beyond the text length are ignored rather than rejected
// here. Overlapping commands are legal: among commands fully containing a
// segment, the last one of each type in the supplied order wins.
func SegmentChapter(content string, commands []core.ChapterCommand) []core.Segment {
	if content == "" {
		return nil
	}

	if len(commands) == 0 {
		return []core.Segment{{Content: content, VoiceID: "", Emotion: ""}}
	}

	runes := []rune(content)
	points := splitPoints(len(runes), commands)

	segments := make([]core.Segment, 0, len(points)-1)

	for i := 0; i < len(points)-1; i++ {
		start, end := points[i], points[i+1]
		if start == end {
			continue
		}

		segment := core.Segment{
			Content: string(runes[start:end]),
			VoiceID: "",
			Emotion: "",
		}

		// A command applies only when it fully contains the segment.
		// Later commands overwrite earlier ones of the same type.
		for _, cmd := range commands {
			if start < cmd.Position.Start || end > cmd.Position.End {
				continue
			}

			switch cmd.Type {
			case core.CommandSpeakerChange:
				segment.VoiceID = cmd.VoiceID
			case core.CommandEmotionChange:
				segment.Emotion = cmd.Emotion
			}
		}

		segments = append(segments, segment)
	}

	return segments
}

// splitPoints collects the sorted, deduplicated boundary offsets: 0, the text
// length, and every in-range command start and end.
func splitPoints(length int, commands []core.ChapterCommand) []int {
	seen := map[int]struct{}{0: {}, length: {}}

	for _, cmd := range commands {
		if cmd.Position.Start >= 0 && cmd.Position.Start <= length {
			seen[cmd.Position.Start] = struct{}{}
		}

		if cmd.Position.End >= 0 && cmd.Position.End <= length {
			seen[cmd.Position.End] = struct{}{}
		}
	}

	points := make([]int, 0, len(seen))
	for p := range seen {
		points = append(points, p)
	}

	sort.Ints(points)

	return points
}
