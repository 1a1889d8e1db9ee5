package rootindex

import (
	"context"
	"os"
	"path"
	"path/filepath"
)

// defaultScanner walks a root with an iterative stack to avoid deep
// recursion, honoring the configured ExcludeManager and OneFileSystem
// flag. It is the Scanner used whenever New is given a nil one.
type defaultScanner struct{}

// gitignoreLoader is implemented by exclude.Manager; a scanner-supplied
// ExcludeManager that doesn't support it (a test fake, say) simply never
// has per-directory .gitignore files loaded into it.
type gitignoreLoader interface {
	LoadGitignore(dir, gitignorePath string) error
}

type dirJob struct {
	absPath string
	relPath string // "."  for the root itself
	dev     uint64
}

func (defaultScanner) Scan(ctx context.Context, include Include, exclude ExcludeManager, flags PropertyFlags) (files, folders []ScannedEntry, err error) {
	rootAbs, err := filepath.Abs(include.Path)
	if err != nil {
		rootAbs = include.Path
	}

	loader, _ := exclude.(gitignoreLoader)

	rootDev, _ := deviceOf(rootAbs)
	stack := []dirJob{{absPath: rootAbs, relPath: ".", dev: rootDev}}

	for len(stack) > 0 {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, readErr := os.ReadDir(d.absPath)
		if readErr != nil {
			continue // unreadable directory: skip, do not fail the whole scan
		}

		if loader != nil {
			for _, de := range entries {
				if !de.IsDir() && de.Name() == ".gitignore" {
					_ = loader.LoadGitignore(d.relPath, filepath.Join(d.absPath, ".gitignore"))
					break
				}
			}
		}

		for _, de := range entries {
			name := de.Name()
			abs := filepath.Join(d.absPath, name)
			rel := relJoin(d.relPath, name)

			if exclude != nil && exclude.Matches(rel) {
				continue
			}

			info, infoErr := de.Info()
			if infoErr != nil {
				continue
			}

			if de.IsDir() {
				if include.OneFileSystem {
					if dev, ok := deviceOf(abs); ok && dev != d.dev {
						continue
					}
				}
				folders = append(folders, ScannedEntry{RelPath: rel, IsDir: true, ModTime: info.ModTime().Unix()})
				stack = append(stack, dirJob{absPath: abs, relPath: rel, dev: d.dev})
				continue
			}

			var size uint64
			var mtime int64
			if flags.Has(FlagSize) {
				size = uint64(info.Size())
			}
			if flags.Has(FlagModificationTime) {
				mtime = info.ModTime().Unix()
			}
			files = append(files, ScannedEntry{RelPath: rel, Size: size, ModTime: mtime})
		}
	}

	return files, folders, nil
}

func relJoin(base, name string) string {
	if base == "." || base == "" {
		return name
	}
	return path.Join(base, name)
}
