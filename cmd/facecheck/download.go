package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

const modelBaseURL = "http://dlib.net/files/"

// models are the dlib files the recognizer loads.
var models = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the dlib recognition models",
	Long: `Download and unpack the dlib models into the configured model path,
or into dir when given. Existing files are kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelDir := cfg.Recognition.ModelPath
		if len(args) > 0 {
			modelDir = args[0]
		} else if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
		ctx, stop := interruptContext(cmd.Context())
		defer stop()
		return downloadModels(ctx, http.DefaultClient, modelBaseURL, modelDir, !mustGetBool(cmd, "no-progress"))
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

func downloadModels(ctx context.Context, client *http.Client, baseURL, modelDir string, progress bool) error {
	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, name := range models {
		targetPath := filepath.Join(modelDir, name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", name)
			continue
		}

		logging.WithFields(logging.Fields{"model": name, "dir": modelDir}).Info("Downloading model")
		if err := downloadAndExtract(ctx, client, baseURL+name+".bz2", targetPath, progress); err != nil {
			return fmt.Errorf("failed to download %s: %w", name, err)
		}
		logging.Infof("Successfully downloaded %s", name)
	}

	logging.Info("All models downloaded successfully")
	return nil
}

// downloadAndExtract unpacks a bzip2 file into targetPath. A partial file is
// removed on error.
func downloadAndExtract(ctx context.Context, client *http.Client, url, targetPath string, progress bool) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if progress {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(targetPath))
		body = io.TeeReader(resp.Body, bar)
	}

	tmp := targetPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, bzip2.NewReader(body)); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, targetPath)
}
