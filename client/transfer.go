package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/k0kubun/go-ansi"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/config/params"
	"github.com/zkmpc/maestro/coordinator/types"
)

// UploadObject streams a local file into the ceremony bucket through
// pre-signed multi-part URLs. When ceremonyID is non-empty every settled
// part lands on the participant document, so a contributor killed mid-upload
// resumes from temp instead of starting over. If the resumed upload id turns
// out to be dead, for instance because the previous run completed it right
// before crashing, the transfer restarts once from scratch under a fresh id.
func (c *Client) UploadObject(ctx context.Context, ceremonyID, bucket, key, path string, temp *types.TempContributionData) error {
	resuming := temp != nil && temp.UploadID != ""
	err := c.uploadObject(ctx, ceremonyID, bucket, key, path, temp)
	if err != nil && resuming && ctx.Err() == nil {
		log.WithError(err).WithField("object", key).Warning("Resumed upload failed, restarting from scratch")
		return c.uploadObject(ctx, ceremonyID, bucket, key, path, nil)
	}
	return err
}

func (c *Client) uploadObject(ctx context.Context, ceremonyID, bucket, key, path string, temp *types.TempContributionData) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "could not stat %s", path)
	}
	size := info.Size()
	chunkBytes := params.CeremonyConfig().StreamChunkSizeInMB << 20
	if chunkBytes <= 0 {
		return errors.Errorf("invalid stream chunk size %d MB", params.CeremonyConfig().StreamChunkSizeInMB)
	}
	parts := int32((size + chunkBytes - 1) / chunkBytes)
	if parts < 1 {
		parts = 1
	}

	var uploadID string
	var settled []types.ChunkData
	if temp != nil && temp.UploadID != "" {
		uploadID = temp.UploadID
		settled = append(settled, temp.Chunks...)
		log.WithFields(logrus.Fields{
			"object": key,
			"parts":  len(settled),
		}).Info("Resuming interrupted upload")
	} else {
		uploadID, err = c.StartMultiPartUpload(ctx, &api.StartMultiPartUploadRequest{
			CeremonyID: ceremonyID,
			BucketName: bucket,
			ObjectKey:  key,
		})
		if err != nil {
			return errors.Wrap(err, "could not open multi-part upload")
		}
	}

	urls, err := c.PreSignedUploadParts(ctx, &api.PreSignedUrlsPartsRequest{
		CeremonyID:          ceremonyID,
		BucketName:          bucket,
		ObjectKey:           key,
		UploadID:            uploadID,
		NumberOfParts:       parts,
		ExpirationInSeconds: params.CeremonyConfig().PresignedURLExpirationInSeconds,
	})
	if err != nil {
		return errors.Wrap(err, "could not sign upload parts")
	}
	if int32(len(urls)) != parts {
		return errors.Errorf("expected %d signed part urls, got %d", parts, len(urls))
	}

	done := make(map[int32]bool, len(settled))
	for _, chunk := range settled {
		done[chunk.PartNumber] = true
	}

	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return errors.Wrapf(err, "could not open %s", path)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Debug("Could not close upload source")
		}
	}()

	bar := transferBar(size, fmt.Sprintf("Uploading %s (%s)", filepath.Base(key), humanize.Bytes(uint64(size))))
	for i := int32(1); i <= parts; i++ {
		offset := int64(i-1) * chunkBytes
		length := chunkBytes
		if offset+length > size {
			length = size - offset
		}
		if done[i] {
			_ = bar.Add64(length)
			continue
		}
		buf := make([]byte, length)
		if n, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrapf(err, "could not read part %d", i)
		} else if int64(n) != length {
			return errors.Errorf("short read of part %d: %d of %d bytes", i, n, length)
		}
		etag, err := c.putPart(ctx, urls[i-1], buf)
		if err != nil {
			return errors.Wrapf(err, "could not upload part %d", i)
		}
		chunk := types.ChunkData{ETag: etag, PartNumber: i}
		settled = append(settled, chunk)
		if ceremonyID != "" {
			if err := c.StoreChunk(ctx, ceremonyID, chunk); err != nil && api.ErrCode(err) != api.CodeAlreadyExists {
				return errors.Wrapf(err, "could not persist part %d", i)
			}
		}
		_ = bar.Add64(length)
	}
	_ = bar.Finish()

	sort.Slice(settled, func(i, j int) bool { return settled[i].PartNumber < settled[j].PartNumber })
	if _, err := c.CompleteMultiPartUpload(ctx, &api.CompleteMultiPartUploadRequest{
		CeremonyID: ceremonyID,
		BucketName: bucket,
		ObjectKey:  key,
		UploadID:   uploadID,
		Parts:      settled,
	}); err != nil {
		return errors.Wrap(err, "could not complete multi-part upload")
	}
	return nil
}

// putPart PUTs one part body against its pre-signed URL and returns the
// acknowledged ETag. Transient failures retry under exponential backoff;
// 4xx answers mean the signature or the slot is gone and fail immediately.
func (c *Client) putPart(ctx context.Context, signedURL string, body []byte) (string, error) {
	var etag string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.ContentLength = int64(len(body))
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return errors.Errorf("part upload answered status %d", resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			return backoff.Permanent(errors.Errorf("part upload rejected with status %d", resp.StatusCode))
		}
		etag = strings.Trim(resp.Header.Get("ETag"), `"`)
		if etag == "" {
			return backoff.Permanent(errors.New("object store acknowledged the part without an ETag"))
		}
		return nil
	}
	cfg := params.CeremonyConfig()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.UploadBackoffInitial
	policy.MaxInterval = cfg.UploadBackoffMax
	policy.MaxElapsedTime = cfg.UploadRetryWindow
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return etag, nil
}

// DownloadObject fetches one artifact through a pre-signed URL into path.
// The bytes land in a temporary sibling first and rename into place on
// success, so an interrupted download never leaves a plausible-looking
// artifact behind.
func (c *Client) DownloadObject(ctx context.Context, ceremonyID, bucket, key, path string) error {
	signed, err := c.DownloadURL(ctx, &api.DownloadURLRequest{
		CeremonyID: ceremonyID,
		BucketName: bucket,
		ObjectKey:  key,
	})
	if err != nil {
		return errors.Wrap(err, "could not sign download")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close download body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download of %s answered status %d", key, resp.StatusCode)
	}

	tmp := path + ".part"
	f, err := os.Create(tmp) // #nosec G304
	if err != nil {
		return errors.Wrapf(err, "could not create %s", tmp)
	}
	var dest io.Writer = f
	if resp.ContentLength > 0 {
		bar := transferBar(resp.ContentLength, fmt.Sprintf("Downloading %s (%s)", filepath.Base(key), humanize.Bytes(uint64(resp.ContentLength))))
		dest = io.MultiWriter(f, bar)
	}
	if _, err := io.Copy(dest, resp.Body); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "could not stream %s", key)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func transferBar(size int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		size,
		progressbar.OptionFullWidth(),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
		progressbar.OptionSetDescription(description),
	)
}
