package storage

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Fetcher range-reads one object in S3-compatible storage.
type S3Fetcher struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Factory returns a FetcherFactory over a shared S3 client.
// Passing a nil client loads the default AWS config, honouring the
// usual environment credentials.
func NewS3Factory(ctx context.Context, client *s3.Client) (FetcherFactory, error) {
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("error loading AWS config: %v", err)
		}
		client = s3.NewFromConfig(cfg)
	}

	return func(assetURL string) (RangeFetcher, error) {
		u, err := url.Parse(assetURL)
		if err != nil {
			return nil, err
		}
		if u.Scheme != "s3" || len(u.Host) == 0 {
			return nil, fmt.Errorf("%s is not an s3 url", assetURL)
		}
		return &S3Fetcher{
			client: client,
			bucket: u.Host,
			key:    strings.TrimPrefix(u.Path, "/"),
		}, nil
	}, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, off, length int64) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+length-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 range read s3://%s/%s failed: %v", f.bucket, f.key, err)
	}
	defer out.Body.Close()
	return ioutil.ReadAll(out.Body)
}

func (f *S3Fetcher) Size(ctx context.Context) (int64, error) {
	out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}
