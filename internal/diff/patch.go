package diff

import (
	"fmt"
	"io"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/sprite-ai/crev/internal/model"
)

// ParsePatch reads a unified diff and returns one change record per file.
func ParsePatch(r io.Reader) ([]model.ChangeRecord, error) {
	files, _, err := gitdiff.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	records := make([]model.ChangeRecord, 0, len(files))
	for _, f := range files {
		rec := model.ChangeRecord{Path: f.NewName, Kind: model.ChangeModified}
		switch {
		case f.IsNew:
			rec.Kind = model.ChangeAdded
		case f.IsDelete:
			rec.Kind = model.ChangeDeleted
			rec.Path = f.OldName
		case f.IsRename:
			rec.Kind = model.ChangeRenamed
			rec.OldPath = f.OldName
		case f.IsCopy:
			rec.Kind = model.ChangeCopied
		}
		if rec.Path == "" {
			rec.Path = f.OldName
		}

		for _, frag := range f.TextFragments {
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					rec.LinesAdded++
				case gitdiff.OpDelete:
					rec.LinesRemoved++
				}
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
