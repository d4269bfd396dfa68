package diff

import (
	"strings"
	"testing"

	"github.com/sprite-ai/crev/internal/model"
)

const sampleDiff = `diff --git a/hello.go b/hello.go
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/hello.go
@@ -0,0 +1,11 @@
+package main
+
+import "fmt"
+
+func main() {
+	fmt.Println("hello")
+}
+
+func add(a, b int) int {
+	return a + b
+}
diff --git a/readme.md b/readme.md
index abc1234..def5678 100644
--- a/readme.md
+++ b/readme.md
@@ -1,3 +1,4 @@
 # Project

-Old description
+New description
+Added line
diff --git a/old.txt b/old.txt
deleted file mode 100644
index abc1234..0000000
--- a/old.txt
+++ /dev/null
@@ -1 +0,0 @@
-gone
diff --git a/a.go b/b.go
similarity index 100%
rename from a.go
rename to b.go
`

func TestParsePatch(t *testing.T) {
	records, err := ParsePatch(strings.NewReader(sampleDiff))
	if err != nil {
		t.Fatalf("ParsePatch failed: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}

	want := []model.ChangeRecord{
		{Path: "hello.go", Kind: model.ChangeAdded, LinesAdded: 11},
		{Path: "readme.md", Kind: model.ChangeModified, LinesAdded: 2, LinesRemoved: 1},
		{Path: "old.txt", Kind: model.ChangeDeleted, LinesRemoved: 1},
		{Path: "b.go", OldPath: "a.go", Kind: model.ChangeRenamed},
	}
	for i, w := range want {
		if records[i] != w {
			t.Errorf("record %d = %+v, want %+v", i, records[i], w)
		}
	}
}

func TestParsePatchEmpty(t *testing.T) {
	records, err := ParsePatch(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParsePatch empty failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected 0 records, got %d", len(records))
	}
}
