package store

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A S3 store keeps values as objects in an AWS S3 bucket, or anything
// speaking the same API (e.g. Minio). Every key is stored under Prefix so a
// bucket can be shared. Do not change Bucket or Prefix concurrently with
// calls using the structure.
type S3 struct {
	svc    s3iface.S3API
	Bucket string
	Prefix string
	Log    logrus.FieldLogger
	sizes  *sizecache // keep HEAD info
}

var _ Store = &S3{}

// NewS3 creates a new S3 store. The authorization method and credentials in
// the session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return NewS3Client(bucket, prefix, s3.New(awsSession))
}

// NewS3Client creates a S3 store using an existing client.
func NewS3Client(bucket, prefix string, svc s3iface.S3API) *S3 {
	return &S3{
		svc:    svc,
		Bucket: bucket,
		Prefix: prefix,
		Log:    logrus.StandardLogger(),
		sizes:  newSizeCache(),
	}
}

func (s *S3) report(op, key string, err error) {
	s.Log.WithFields(logrus.Fields{
		"bucket": s.Bucket,
		"prefix": s.Prefix,
		"key":    key,
	}).WithError(err).Error("S3 " + op)
	raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
}

// List returns all the keys in this store. Only objects under the store's
// Prefix are listed, so it is safe to use this on a shared bucket.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		keys, _ := s.ListPrefix("")
		for _, k := range keys {
			out <- k
		}
	}()
	return out
}

// ListPrefix returns the keys in this store that have the given prefix.
// The argument prefix is added to the store's Prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(aws.StringValue(item.Key), s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		s.report("ListPrefix", prefix, err)
	}
	return result, err
}

// Open returns a ReadAtCloser for the given key. Each ReadAt is a ranged
// GET, which suits payload reads since they are usually done in one call.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.sizes.Get(key, s.stat)
	if err != nil {
		return nil, 0, errors.Wrap(err, key)
	}
	return &s3Reader{s: s, key: s.Prefix + key, size: size}, size, nil
}

// stat does a HEAD request on key. A missing key is sizeDeleted.
func (s *S3) stat(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
			return sizeDeleted, nil
		}
		return 0, err
	}
	return aws.Int64Value(info.ContentLength), nil
}

// Create returns a writer for a new key. The value is buffered and sent in
// one PUT when the writer is closed.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	s.sizes.Forget(key)
	if _, err := s.sizes.Get(key, s.stat); err == nil {
		return nil, errors.Wrap(ErrKeyExists, key)
	} else if errors.Cause(err) != ErrNotFound {
		return nil, err
	}
	return &s3Writer{s: s, key: key}, nil
}

// Delete removes the given key. It is not an error to delete something that
// doesn't exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		s.report("Delete", key, err)
		return err
	}
	s.sizes.Set(key, sizeDeleted)
	return nil
}

type s3Reader struct {
	s    *S3
	key  string // includes the store prefix
	size int64
}

func (r *s3Reader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}
	output, err := r.s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(r.s.Bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
			return 0, io.EOF
		}
		r.s.report("ReadAt", r.key, err)
		return 0, err
	}
	defer output.Body.Close()
	n, err := io.ReadFull(output.Body, p[:end-off+1])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (r *s3Reader) Close() error { return nil }

type s3Writer struct {
	s   *S3
	key string
	buf bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	// bytes.Reader since the sdk wants to Seek
	body := bytes.NewReader(w.buf.Bytes())
	_, err := w.s.svc.PutObject(&s3.PutObjectInput{
		Body:          body,
		Bucket:        aws.String(w.s.Bucket),
		Key:           aws.String(w.s.Prefix + w.key),
		ContentLength: aws.Int64(int64(body.Len())),
	})
	if err != nil {
		w.s.report("Put", w.key, err)
		return err
	}
	w.s.sizes.Set(w.key, int64(w.buf.Len()))
	return nil
}
