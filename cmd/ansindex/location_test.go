package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/ndlib/ansindex/store"
)

const (
	typeMemory = iota
	typeFileSystem
	typeS3
	typeError
)

func TestSplitBucketPrefix(t *testing.T) {
	var table = []struct {
		location string
		addition string
		bucket   string
		prefix   string
	}{
		{"", "", "", ""},
		{"rel/path", "", "rel", "path/"},
		{"/abs/path/", "", "abs", "path/"},
		{"/bucket", "", "bucket", ""},
		{"/bucket", "more", "bucket", "more/"},
		{"/bucket/prefix/", "", "bucket", "prefix/"},
		{"/bucket/prefix", "more", "bucket", "prefix/more/"},
	}

	for _, row := range table {
		bucket, prefix := splitBucketPrefix(row.location, row.addition)
		if bucket != row.bucket {
			t.Error("expected bucket", row.bucket, "received", bucket)
		}
		if prefix != row.prefix {
			t.Error("expected prefix", row.prefix, "received", prefix)
		}
	}
}

func TestParseLocation(t *testing.T) {
	dir, err := ioutil.TempDir("", "ansindex")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	var table = []struct {
		location string
		addition string
		typ      int
		bucket   string
		prefix   string
	}{
		{"", "", typeMemory, "", ""},
		{dir, "items", typeFileSystem, "", ""},
		{"file:" + filepath.Join(dir, "other"), "", typeFileSystem, "", ""},
		{"s3:/bucket", "", typeS3, "bucket", ""},
		{"s3:/bucket", "items", typeS3, "bucket", "items/"},
		{"s3://localhost:9000/bucket/prefix/", "items", typeS3, "bucket", "prefix/items/"},
		{"s3://localhost:9000/", "", typeError, "", ""},
		{"ftp://example.com/x", "", typeError, "", ""},
	}

	for _, row := range table {
		result, err := parselocation(row.location, row.addition)
		if row.typ == typeError {
			if err == nil {
				t.Errorf("%s: expected an error", row.location)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: Received %s", row.location, err.Error())
			continue
		}
		switch x := result.(type) {
		case *store.Memory:
			if row.typ != typeMemory {
				t.Errorf("unexpected received %#v", result)
			}
		case *store.FileSystem:
			if row.typ != typeFileSystem {
				t.Errorf("unexpected received %#v", result)
			}
		case *store.S3:
			if row.typ != typeS3 {
				t.Errorf("unexpected received %#v", result)
			}
			if x.Bucket != row.bucket {
				t.Error("expected bucket", row.bucket, "received", x.Bucket)
			}
			if x.Prefix != row.prefix {
				t.Error("expected prefix", row.prefix, "received", x.Prefix)
			}
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "items")); err != nil {
		t.Errorf("Received %s", err.Error())
	}
}
