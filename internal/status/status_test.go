package status

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestAddGroupsBySameTitle(t *testing.T) {
	r := New(nil)
	mustNil(t, r.Add("Searching the web…", "golang generics"))
	mustNil(t, r.Add("Searching the web…", "go 1.25 release"))
	mustNil(t, r.Add("Running calc…"))

	want := []Entry{
		{Title: "Searching the web…", Bullets: []string{"golang generics", "go 1.25 release"}},
		{Title: "Running calc…"},
	}
	if got := r.Entries(); !reflect.DeepEqual(got, want) {
		t.Fatalf("entries = %#v, want %#v", got, want)
	}
}

func TestUpdateLast(t *testing.T) {
	r := New(nil)
	mustNil(t, r.UpdateLast("Thinking…"))
	mustNil(t, r.Add("Running calc…", "x=2"))
	mustNil(t, r.UpdateLast("Ran calc", "result 4"))
	mustNil(t, r.UpdateLast("", ""))

	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %#v", entries)
	}
	if entries[1].Title != "Ran calc" {
		t.Errorf("title = %q", entries[1].Title)
	}
	if !reflect.DeepEqual(entries[1].Bullets, []string(nil)) {
		t.Errorf("bullets = %#v, want none after empty replacement", entries[1].Bullets)
	}
}

func TestFinishForbidsFurtherMutation(t *testing.T) {
	r := New(nil)
	base := time.Now()
	r.started = base
	r.now = func() time.Time { return base.Add(3400 * time.Millisecond) }

	mustNil(t, r.Add("Running calc…"))
	mustNil(t, r.Finish(""))

	entries := r.Entries()
	if last := entries[len(entries)-1].Title; last != "Completed in 3s" {
		t.Errorf("terminal entry = %q", last)
	}
	if !r.Finished() {
		t.Error("Finished() = false")
	}
	for name, err := range map[string]error{
		"Add":        r.Add("late"),
		"UpdateLast": r.UpdateLast("late"),
		"Finish":     r.Finish("again"),
	} {
		if !errors.Is(err, ErrFinished) {
			t.Errorf("%s after Finish = %v, want ErrFinished", name, err)
		}
	}
	if got := len(r.Entries()); got != 2 {
		t.Errorf("entries after rejected mutations = %d, want 2", got)
	}
}

func TestRender(t *testing.T) {
	r := New(nil)
	if r.Render() != "" {
		t.Fatal("expected empty render without entries")
	}
	mustNil(t, r.Add("Running <calc>…", "a\nb"))
	mustNil(t, r.Finish("Stopped"))

	got := r.Render()
	want := "<details type=\"status\" done=\"true\">\n" +
		"<summary>Stopped</summary>\n\n" +
		"- Running &lt;calc&gt;…\n" +
		"  - a b\n" +
		"- Stopped\n" +
		"</details>\n\n"
	if got != want {
		t.Errorf("Render =\n%q\nwant\n%q", got, want)
	}
}

func TestReplaceSwapsExistingBlock(t *testing.T) {
	r := New(nil)
	mustNil(t, r.Add("Running calc…"))
	msg := Replace("The answer", r.Render())
	mustNil(t, r.Add("Running search…"))
	msg = Replace(msg, r.Render())

	if got := strings.Count(msg, "<details"); got != 1 {
		t.Fatalf("message holds %d status blocks:\n%s", got, msg)
	}
	if !strings.HasPrefix(msg, "<details type=\"status\"") || !strings.HasSuffix(msg, "</details>\n\nThe answer") {
		t.Errorf("unexpected message:\n%q", msg)
	}
	if Strip(msg) != "The answer" {
		t.Errorf("Strip = %q", Strip(msg))
	}
}

func TestStripLeavesOtherDetails(t *testing.T) {
	msg := "<details><summary>spoiler</summary>x</details>\n"
	if Strip(msg) != msg {
		t.Errorf("Strip removed an unrelated details block: %q", Strip(msg))
	}
}

func TestOnChangeSeesEveryMutation(t *testing.T) {
	var updates []Update
	r := New(func(u Update) { updates = append(updates, u) })
	mustNil(t, r.Add("one"))
	mustNil(t, r.Add("one", "detail"))
	mustNil(t, r.UpdateLast("two"))
	mustNil(t, r.Finish("done"))
	_ = r.Add("rejected")

	if len(updates) != 4 {
		t.Fatalf("onChange called %d times, want 4", len(updates))
	}
	titles := make([]string, len(updates))
	for i, u := range updates {
		titles[i] = u.Last.Title
	}
	if got := strings.Join(titles, ","); got != "one,one,two,done" {
		t.Errorf("update titles = %s", got)
	}
	if len(updates[1].Last.Bullets) != 1 || updates[1].Last.Bullets[0] != "detail" {
		t.Errorf("bullets = %v", updates[1].Last.Bullets)
	}
	if !updates[3].Finished || updates[2].Finished {
		t.Errorf("finished flags = %v, %v", updates[2].Finished, updates[3].Finished)
	}
	if !strings.Contains(updates[3].Rendered, `done="true"`) || strings.Contains(updates[2].Rendered, `done="true"`) {
		t.Errorf("done flag wrong in renders")
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
