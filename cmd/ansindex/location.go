package main

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"

	"github.com/ndlib/ansindex/store"
)

// splitBucketPrefix will take a path and separate the bucket name from a prefix, if any.
// It will also append "addition" to the prefix, and make sure the prefix returned is
// either empty or ends with a slash "/".
//
// examples:
// 		"" -> ("", "")
//		"bucket" -> ("bucket", "")
//		"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string, addition string) (bucket, prefix string) {
	if location == "" {
		return
	}
	location = strings.TrimPrefix(location, "/")
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if addition != "" {
		prefix = path.Join(prefix, addition)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// parselocation will create an appropriate store based on "location", with
// "addition" appended to its path. It understands the scheme "s3:", and
// "file:" or no scheme for a directory. If location is empty, a memory store
// is returned.
func parselocation(location string, addition string) (store.Store, error) {
	if location == "" {
		return store.NewMemory(), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrapf(err, "location %s", location)
	}
	switch u.Scheme {
	case "", "file":
		p := u.Path
		if p == "" {
			p = u.Opaque // "file:rel/path"
		}
		p = filepath.Join(p, addition)
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, err
		}
		return store.NewFileSystem(p), nil
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path, addition)
		if bucket == "" {
			return nil, errors.Errorf("location %s has no bucket name", location)
		}
		sess, err := session.NewSession(conf)
		if err != nil {
			return nil, err
		}
		return store.NewS3(bucket, prefix, sess), nil
	}
	return nil, errors.Errorf("location %s has an unknown scheme", location)
}
