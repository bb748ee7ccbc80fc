// Package publish mirrors the cached assets to S3 for consumers that should
// not depend on the git repository.
//
// Objects carry their SHA-256 in user metadata so unchanged assets are never
// re-uploaded. After the assets, a manifest listing every published path is
// written next to them, optionally signed with a KMS key, and its digest is
// stored in an SSM parameter that readers poll to discover new releases.
package publish

import (
	"bytes"
	"context"
	"os"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-profile/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-profile/internal/filetype"
	"github.com/keithlinneman/linnemanlabs-profile/internal/log"
	"github.com/keithlinneman/linnemanlabs-profile/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

const (
	ManifestName  = "manifest.json"
	SignatureName = "manifest.json.sig"

	metaSHA256   = "sha256"
	metaRunID    = "run-id"
	cacheControl = "public, max-age=300"
)

type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type SSMAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// Signer signs and checks the manifest. *cryptoutil.KMSSigner implements it.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	Verify(ctx context.Context, message, signature []byte) error
	KeyID() string
}

type Options struct {
	Logger log.Logger

	// s3://{bucket}/{prefix}/{path}
	Bucket string
	Prefix string

	// RepoDir is where asset paths are read from
	RepoDir string
	RunID   string

	// SSMParam receives the manifest digest when set
	SSMParam string

	// KMSKeyID signs the manifest when set
	KMSKeyID         string
	SigningAlgorithm string

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

type Publisher struct {
	opts   Options
	s3     S3API
	ssm    SSMAPI
	signer Signer
	logger log.Logger
}

// Asset is one cached file to mirror.
type Asset struct {
	// Path is repository-relative with forward slashes
	Path string
	Ext  string
}

// Result summarizes a Publish call.
type Result struct {
	Uploaded        []string
	Unchanged       int
	Failed          int
	ManifestSHA256  string
	ManifestChanged bool
	Signed          bool
}

// New creates a Publisher backed by real AWS clients.
func New(ctx context.Context, opts Options) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}

	var awsCfg aws.Config
	var err error
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}

	var signer Signer
	if opts.KMSKeyID != "" {
		s, err := cryptoutil.NewKMSSigner(kms.NewFromConfig(awsCfg), opts.KMSKeyID, opts.SigningAlgorithm)
		if err != nil {
			return nil, err
		}
		signer = s
	}
	var ssmClient SSMAPI
	if opts.SSMParam != "" {
		ssmClient = ssm.NewFromConfig(awsCfg)
	}

	return newPublisher(opts, s3.NewFromConfig(awsCfg), ssmClient, signer), nil
}

func newPublisher(opts Options, s3c S3API, ssmc SSMAPI, signer Signer) *Publisher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.RepoDir == "" {
		opts.RepoDir = "."
	}
	return &Publisher{opts: opts, s3: s3c, ssm: ssmc, signer: signer, logger: opts.Logger}
}

func (p *Publisher) key(name string) string {
	return path.Join(p.opts.Prefix, name)
}

// Publish uploads every asset whose bytes differ from the mirrored copy,
// then refreshes the manifest. Per-asset failures are counted and logged;
// when any occur the manifest is left alone and an error is returned so
// readers never see a manifest pointing at stale objects.
func (p *Publisher) Publish(ctx context.Context, assets []Asset) (*Result, error) {
	sorted := append([]Asset(nil), assets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	res := &Result{}
	m := Manifest{Version: ManifestVersion}
	for _, a := range sorted {
		entry, uploaded, err := p.publishAsset(ctx, a)
		if err != nil {
			res.Failed++
			p.logger.Warn(ctx, "asset upload failed",
				"path", a.Path,
				"bucket", p.opts.Bucket,
				"error", err,
			)
			continue
		}
		m.Assets = append(m.Assets, entry)
		if uploaded {
			res.Uploaded = append(res.Uploaded, a.Path)
		} else {
			res.Unchanged++
		}
	}
	if res.Failed > 0 {
		return res, xerrors.Newf("%d of %d assets failed to upload, manifest not updated", res.Failed, len(sorted))
	}

	body, err := m.Marshal()
	if err != nil {
		return res, err
	}
	sum := cryptoutil.SHA256Hex(body)
	res.ManifestSHA256 = sum

	changed, err := p.putIfChanged(ctx, ManifestName, body, sum, "application/json")
	if err != nil {
		return res, xerrors.Wrap(err, "upload manifest")
	}
	res.ManifestChanged = changed
	if !changed {
		p.logger.Debug(ctx, "manifest unchanged", "sha256", sum)
		return res, nil
	}

	if p.signer != nil {
		if err := p.sign(ctx, body); err != nil {
			return res, err
		}
		res.Signed = true
	}

	if p.ssm != nil && p.opts.SSMParam != "" {
		_, err := p.ssm.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(p.opts.SSMParam),
			Value:     aws.String(sum),
			Type:      ssmtypes.ParameterTypeString,
			Overwrite: aws.Bool(true),
		})
		if err != nil {
			return res, xerrors.Wrapf(err, "put SSM parameter %s", p.opts.SSMParam)
		}
	}

	p.logger.Info(ctx, "published asset manifest",
		"bucket", p.opts.Bucket,
		"key", p.key(ManifestName),
		"sha256", sum,
		"assets", len(m.Assets),
		"uploaded", len(res.Uploaded),
		"signed", res.Signed,
	)
	return res, nil
}

func (p *Publisher) publishAsset(ctx context.Context, a Asset) (ManifestAsset, bool, error) {
	full, err := pathutil.Join(p.opts.RepoDir, a.Path)
	if err != nil {
		return ManifestAsset{}, false, xerrors.Wrapf(err, "asset path %s", a.Path)
	}
	body, err := os.ReadFile(full)
	if err != nil {
		return ManifestAsset{}, false, xerrors.Wrapf(err, "read %s", a.Path)
	}

	sum := cryptoutil.SHA256Hex(body)
	ct := filetype.ContentType(a.Ext)
	uploaded, err := p.putIfChanged(ctx, a.Path, body, sum, ct)
	if err != nil {
		return ManifestAsset{}, false, err
	}
	return ManifestAsset{Path: a.Path, SHA256: sum, Size: int64(len(body)), ContentType: ct}, uploaded, nil
}

// putIfChanged uploads body under name unless the object already carries
// the same digest. Any HeadObject failure, including not found, means upload.
func (p *Publisher) putIfChanged(ctx context.Context, name string, body []byte, sum, contentType string) (bool, error) {
	key := p.key(name)
	head, err := p.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.opts.Bucket),
		Key:    aws.String(key),
	})
	if err == nil && cryptoutil.HashEqual(head.Metadata[metaSHA256], sum) {
		return false, nil
	}

	meta := map[string]string{metaSHA256: sum}
	if p.opts.RunID != "" {
		meta[metaRunID] = p.opts.RunID
	}
	_, err = p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(cacheControl),
		Metadata:      meta,
	})
	if err != nil {
		return false, xerrors.Wrapf(err, "put s3://%s/%s", p.opts.Bucket, key)
	}
	return true, nil
}

// sign signs the manifest, checks the signature against the key's public
// half, and uploads it next to the manifest.
func (p *Publisher) sign(ctx context.Context, manifest []byte) error {
	sig, err := p.signer.Sign(ctx, manifest)
	if err != nil {
		return xerrors.Wrap(err, "sign manifest")
	}
	if err := p.signer.Verify(ctx, manifest, sig); err != nil {
		return xerrors.Wrap(err, "verify manifest signature")
	}
	if _, err := p.putIfChanged(ctx, SignatureName, sig, cryptoutil.SHA256Hex(sig), "application/octet-stream"); err != nil {
		return xerrors.Wrap(err, "upload manifest signature")
	}
	p.logger.Debug(ctx, "signed manifest", "key_id", p.signer.KeyID())
	return nil
}
