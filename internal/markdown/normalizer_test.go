package markdown

import (
	"testing"
)

func TestNormalizerCheckpointCadence(t *testing.T) {
	n := NewIncrementalNormalizer(2, BreakSpace)

	if _, ok := n.Append("a"); ok {
		t.Errorf("Append #1 checkpointed, want no checkpoint before interval")
	}
	snapshot, ok := n.Append("b")
	if !ok {
		t.Fatalf("Append #2 did not checkpoint at interval")
	}
	if snapshot != "ab" {
		t.Errorf("checkpoint snapshot = %q, want %q", snapshot, "ab")
	}
	if _, ok := n.Append("c"); ok {
		t.Errorf("Append #3 checkpointed, want no checkpoint")
	}
	snapshot, ok = n.Append("d")
	if !ok {
		t.Fatalf("Append #4 did not checkpoint at interval")
	}
	if snapshot != "abcd" {
		t.Errorf("checkpoint snapshot = %q, want %q", snapshot, "abcd")
	}
	if n.FragmentCount() != 4 {
		t.Errorf("FragmentCount() = %d, want 4", n.FragmentCount())
	}
}

func TestNormalizerIntervalClamped(t *testing.T) {
	n := NewIncrementalNormalizer(0, BreakSpace)
	if _, ok := n.Append("x"); !ok {
		t.Errorf("interval 0 should clamp to 1 and checkpoint every fragment")
	}
}

func TestNormalizerFinalizeMatchesAcrossIntervals(t *testing.T) {
	fragments := []string{
		"介绍段落。\n<br/",
		">\n\n第二段继续。\n",
		"### 性格",
		"分析(\n",
		"开朗)\n",
		"结尾段。",
	}
	want := "介绍段落。 第二段继续。\n\n### 性格分析( 开朗)\n\n结尾段。"

	for _, interval := range []int{1, 2, 3, 50} {
		n := NewIncrementalNormalizer(interval, BreakSpace)
		for _, f := range fragments {
			n.Append(f)
		}
		got := n.Finalize()
		if got != want {
			t.Errorf("interval %d: Finalize() = %q, want %q", interval, got, want)
		}
	}
}

func TestNormalizerFragmentSplitDoesNotMatter(t *testing.T) {
	full := "### 出生结构\n个人画像总览\n\n这一段正文足够长不会被标题吸收进去所以保留在原位"

	whole := NewIncrementalNormalizer(3, BreakSpace)
	whole.Append(full)

	pieced := NewIncrementalNormalizer(3, BreakSpace)
	for _, r := range full {
		pieced.Append(string(r))
	}

	if whole.Finalize() != pieced.Finalize() {
		t.Errorf("finalize differs by fragmentation:\nwhole  = %q\npieced = %q",
			whole.Finalize(), pieced.Finalize())
	}
}

func TestNormalizerSnapshot(t *testing.T) {
	n := NewIncrementalNormalizer(1, BreakSpace)
	n.Append("### 标")
	n.Append("题")

	if n.Snapshot() != "### 标题" {
		t.Errorf("Snapshot() = %q, want %q", n.Snapshot(), "### 标题")
	}

	final := n.Finalize()
	if final != n.Snapshot() {
		t.Errorf("Snapshot() = %q after Finalize, want %q", n.Snapshot(), final)
	}
}

func TestNormalizerFinalizeEqualsLastCheckpoint(t *testing.T) {
	n := NewIncrementalNormalizer(1, BreakSpace)

	var last string
	for _, f := range []string{"### 性格分析(", "\n开朗)", "\n正文"} {
		if snapshot, ok := n.Append(f); ok {
			last = snapshot
		}
	}

	if final := n.Finalize(); final != last {
		t.Errorf("Finalize() = %q, last checkpoint = %q, want equal", final, last)
	}
}
