package store

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// fakeS3 keeps objects in a map and answers the calls the S3 store makes.
type fakeS3 struct {
	s3iface.S3API
	m       sync.Mutex
	objects map[string][]byte
	heads   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func notFound() error {
	return awserr.NewRequestFailure(awserr.New("NotFound", "not found", nil), 404, "test")
}

func (f *fakeS3) HeadObject(in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.heads++
	b, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound()
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeS3) GetObject(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	f.m.Lock()
	defer f.m.Unlock()
	b, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound()
	}
	var start, end int
	fmt.Sscanf(aws.StringValue(in.Range), "bytes=%d-%d", &start, &end)
	if start >= len(b) {
		return nil, awserr.NewRequestFailure(awserr.New("InvalidRange", "range", nil), 416, "test")
	}
	if end >= len(b) {
		end = len(b) - 1
	}
	body := ioutil.NopCloser(bytes.NewReader(b[start : end+1]))
	return &s3.GetObjectOutput{Body: body}, nil
}

func (f *fakeS3) PutObject(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	b, err := ioutil.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.m.Lock()
	f.objects[aws.StringValue(in.Key)] = b
	f.m.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	f.m.Lock()
	delete(f.objects, aws.StringValue(in.Key))
	f.m.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2Pages(in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool) error {
	f.m.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	f.m.Unlock()
	sort.Strings(keys)
	page := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
	}
	fn(page, true)
	return nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Client("bucket", "payloads/", fake)
	checkStore(t, s)

	add(t, s, "abc", "0123456789")
	if _, ok := fake.objects["payloads/abc"]; !ok {
		t.Errorf("object not stored under prefix")
	}
	keys, err := s.ListPrefix("a")
	if err != nil || !equal(keys, []string{"abc"}) {
		t.Errorf("Received %v %v", keys, err)
	}

	rac, size, err := s.Open("abc")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer rac.Close()
	if size != 10 {
		t.Errorf("Received size %d, expected 10", size)
	}
	p := make([]byte, 4)
	n, err := rac.ReadAt(p, 8)
	if n != 2 || string(p[:n]) != "89" || err == nil {
		t.Errorf("Received %d %q %v, expected a short read", n, p[:n], err)
	}
	n, err = rac.ReadAt(p, 3)
	if n != 4 || string(p) != "3456" || err != nil {
		t.Errorf("Received %d %q %v", n, p, err)
	}
}

func TestS3SizeCache(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Client("bucket", "", fake)
	add(t, s, "abc", "xyz")
	before := fake.heads
	for i := 0; i < 3; i++ {
		rac, _, err := s.Open("abc")
		if err != nil {
			t.Fatalf("Received %s", err.Error())
		}
		rac.Close()
	}
	if fake.heads != before {
		t.Errorf("Received %d HEAD requests, expected none", fake.heads-before)
	}
}
