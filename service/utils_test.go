package service

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStringSet(t *testing.T) {
	ss := StringSet{}
	ss.Push("b")
	ss.Push("a")
	ss.Push("b")
	if sl := ss.Slice(); len(sl) != 2 || sl[0] != "a" || sl[1] != "b" {
		t.Errorf("unexpected slice: %v", sl)
	}
	ss.Pop("a")
	if ss.Exists("a") || !ss.Exists("b") {
		t.Error("unexpected content")
	}
}

func TestHasFiles(t *testing.T) {
	dir := t.TempDir()
	if ok, err := HasFiles(filepath.Join(dir, "missing")); ok || err != nil {
		t.Errorf("missing dir: %v %v", ok, err)
	}
	os.MkdirAll(filepath.Join(dir, "cogs", "31TCJ", "2021_annual"), 0755)
	if ok, err := HasFiles(dir); ok || err != nil {
		t.Errorf("empty tree: %v %v", ok, err)
	}
	os.WriteFile(filepath.Join(dir, "cogs", "31TCJ", "2021_annual", "a.tif"), []byte("x"), 0644)
	if ok, err := HasFiles(dir); !ok || err != nil {
		t.Errorf("non empty tree: %v %v", ok, err)
	}
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "a", "b"), 0755)
	os.WriteFile(filepath.Join(dir, "a", "31TCJ_metadata_cropland.json"), []byte("{}"), 0644)
	os.WriteFile(filepath.Join(dir, "a", "b", "31TCJ_metadata_conf.json"), []byte("{}"), 0644)
	os.WriteFile(filepath.Join(dir, "a", "b", "31TCJ_cropland.tif"), []byte("x"), 0644)
	files, err := FindFiles(dir, "*metadata_*.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 files, got %v", files)
	}
}

func TestRemoveWithSuffix(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "sub", "tmp31TCJ.tif"), 0755)
	os.WriteFile(filepath.Join(dir, "sub", "tmp31TCJ.tif", "x"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "b_31TCJ.tif"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "b_31TCK.tif"), []byte("x"), 0644)
	removed, err := RemoveWithSuffix(dir, "31TCJ.tif")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Errorf("expected 2 removed paths, got %v", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "b_31TCK.tif")); err != nil {
		t.Error("b_31TCK.tif must not be removed")
	}
}
