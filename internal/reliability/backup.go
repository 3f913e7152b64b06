// Package reliability provides the data-directory backup service: archive,
// checksum, upload to S3-compatible storage, rotate old archives.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/config"
)

// BackupService archives the data directory and ships it to object storage.
type BackupService struct {
	cfg     config.BackupConfig
	dataDir string
	client  *s3.Client
	log     zerolog.Logger
}

// NewBackupService creates a backup service. Returns nil when no bucket is
// configured; callers treat a nil service as backups-disabled.
func NewBackupService(ctx context.Context, cfg config.BackupConfig, dataDir string, log zerolog.Logger) (*BackupService, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &BackupService{
		cfg:     cfg,
		dataDir: dataDir,
		client:  client,
		log:     log.With().Str("service", "backup").Logger(),
	}, nil
}

// Run archives the data directory, uploads the archive with its checksum and
// rotates old archives beyond the retention count.
func (s *BackupService) Run(ctx context.Context) error {
	started := time.Now()

	archive, sum, err := s.buildArchive()
	if err != nil {
		return err
	}
	defer os.Remove(archive)

	key := fmt.Sprintf("%s/%s.tar.gz", s.cfg.Prefix, started.UTC().Format("20060102_150405"))
	if err := s.upload(ctx, archive, key, sum); err != nil {
		return err
	}

	if err := s.rotate(ctx); err != nil {
		// The upload succeeded; rotation failure only delays cleanup.
		s.log.Warn().Err(err).Msg("Failed to rotate old backups")
	}

	s.log.Info().
		Str("key", key).
		Str("sha256", sum).
		Dur("duration", time.Since(started)).
		Msg("Backup completed")
	return nil
}

// buildArchive writes a tar.gz of the data directory to a temp file and
// returns its path and sha256.
func (s *BackupService) buildArchive() (string, string, error) {
	tmp, err := os.CreateTemp("", "bentrade_backup_*.tar.gz")
	if err != nil {
		return "", "", fmt.Errorf("failed to create backup temp file: %w", err)
	}

	hasher := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(tmp, hasher))
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(s.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		// WAL and SHM sidecars are transient and restore dirty.
		if strings.HasSuffix(path, "-wal") || strings.HasSuffix(path, "-shm") {
			return nil
		}

		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})

	closeErr := firstErr(tw.Close(), gz.Close(), tmp.Close())
	if walkErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		if walkErr != nil {
			return "", "", fmt.Errorf("failed to archive data directory: %w", walkErr)
		}
		return "", "", fmt.Errorf("failed to finalize archive: %w", closeErr)
	}

	return tmp.Name(), hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *BackupService) upload(ctx context.Context, path, key, sum string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	uploader := manager.NewUploader(s.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
		Metadata: map[string]string{
			"sha256": sum,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}
	return nil
}

// rotate deletes archives beyond the retention count, oldest first. Keys
// embed their timestamp, so lexical order is chronological.
func (s *BackupService) rotate(ctx context.Context) error {
	keep := s.cfg.Keep
	if keep <= 0 {
		return nil
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix + "/"),
	})
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	sort.Strings(keys)

	if len(keys) <= keep {
		return nil
	}
	for _, key := range keys[:len(keys)-keep] {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete old backup %s: %w", key, err)
		}
		s.log.Debug().Str("key", key).Msg("Rotated old backup")
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
