package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/sentlab/sentlab"
	"github.com/sentlab/sentlab/classifiers"
	"github.com/sentlab/sentlab/encode"
	"github.com/sentlab/sentlab/options"
	"github.com/sentlab/sentlab/util/fileutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var modelName string
var inputPath string
var outputPath string
var backend string
var sharedLibraryDir string
var batchSize int
var maxLen int
var modelsDir string
var numLabels int
var probabilities bool

// input is one .jsonl line to process. Labels or Label is filled on output.
type input struct {
	Text   string    `json:"text"`
	Labels []string  `json:"labels,omitempty"`
	Label  string    `json:"label,omitempty"`
	Scores []float32 `json:"scores,omitempty"`
}

func sharedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model name or path to the model directory",
			Aliases:     []string{"m"},
			Destination: &modelName,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to a .jsonl input file. If omitted, input is read from stdin",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to the .jsonl output file. If omitted, output goes to stdout",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Inference backend, ORT or GO",
			Destination: &backend,
			Value:       "GO",
		},
		&cli.StringFlag{
			Name:        "onnxLibraryDir",
			Usage:       "Directory holding the onnxruntime shared library (ORT backend only)",
			Aliases:     []string{"s"},
			Destination: &sharedLibraryDir,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of inputs to process in a batch",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Value:       20,
		},
		&cli.IntFlag{
			Name:        "maxLen",
			Usage:       "Maximum token sequence length",
			Destination: &maxLen,
			Value:       encode.MaxSequenceLength,
		},
		&cli.IntFlag{
			Name:        "numLabels",
			Usage:       "Size of the model's label vocabulary",
			Aliases:     []string{"n"},
			Destination: &numLabels,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where downloaded models are stored. Falls back to $HOME/sentlab/models",
			Aliases:     []string{"f"},
			Destination: &modelsDir,
		},
	}
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download an onnx model from the huggingface hub",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model name on the hub, for example KnightsAnalytics/distilbert-NER",
			Aliases:     []string{"m"},
			Destination: &modelName,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where to store the model. Falls back to $HOME/sentlab/models",
			Aliases:     []string{"f"},
			Destination: &modelsDir,
		},
	},
	Action: func(ctx *cli.Context) error {
		dir, err := resolveModelsDir()
		if err != nil {
			return err
		}
		opts := sentlab.NewDownloadOptions()
		opts.Verbose = true
		path, err := sentlab.DownloadModel(ctx.Context, modelName, dir, opts)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var tagCommand = &cli.Command{
	Name:  "tag",
	Usage: "Assign one label per word of each input line (token classification)",
	Description: `Tag expects .jsonl input where each line has the format {"text": "some words"}.
Each output line carries a "labels" array with one label per whitespace separated word.`,
	Flags: sharedFlags(),
	Action: func(ctx *cli.Context) error {
		return runClassification(ctx.Context, true)
	},
}

var classifyCommand = &cli.Command{
	Name:  "classify",
	Usage: "Assign one label to each input line (sequence classification)",
	Description: `Classify expects .jsonl input where each line has the format {"text": "a sentence"}.
Each output line carries a "label" field and, with --probabilities, a "scores" array.`,
	Flags: append(sharedFlags(), &cli.BoolFlag{
		Name:        "probabilities",
		Usage:       "Include the softmax distribution over labels",
		Destination: &probabilities,
	}),
	Action: func(ctx *cli.Context) error {
		return runClassification(ctx.Context, false)
	},
}

func main() {
	initConfig()
	app := &cli.App{
		Name:     "sentlab",
		Usage:    "Transformer based sequence and token classification from the command line",
		Commands: []*cli.Command{downloadCommand, tagCommand, classifyCommand},
	}
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads optional defaults from $HOME/.sentlab.yaml and the
// SENTLAB_ environment prefix. Flags always win over the config file.
func initConfig() {
	viper.SetConfigName(".sentlab")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetEnvPrefix("sentlab")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func resolveModelsDir() (string, error) {
	if modelsDir != "" {
		return modelsDir, nil
	}
	if configured := viper.GetString("modelFolder"); configured != "" {
		return configured, nil
	}
	userDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return fileutil.PathJoinSafe(userDir, "sentlab", "models"), nil
}

// resolveModel finds the model locally, under the models folder, or as a
// last resort downloads it from the hub.
func resolveModel(ctx context.Context) (string, string, error) {
	dir, err := resolveModelsDir()
	if err != nil {
		return "", "", err
	}
	exists, err := fileutil.FileExists(modelName)
	if err != nil {
		return "", "", err
	}
	if exists {
		return modelName, dir, nil
	}
	downloaded := fileutil.PathJoinSafe(dir, strings.ReplaceAll(modelName, "/", "_"))
	exists, err = fileutil.FileExists(downloaded)
	if err != nil {
		return "", "", err
	}
	if exists {
		return downloaded, dir, nil
	}
	if strings.Contains(modelName, ":") {
		return "", "", fmt.Errorf("filters with : are currently not supported")
	}
	if err := fileutil.CreateDir(dir); err != nil {
		return "", "", err
	}
	path, err := sentlab.DownloadModel(ctx, modelName, dir, sentlab.NewDownloadOptions())
	if err != nil {
		return "", "", err
	}
	return path, dir, nil
}

func newSession() (*sentlab.Session, error) {
	if backend == "" || strings.EqualFold(backend, "GO") {
		if configured := viper.GetString("backend"); configured != "" {
			backend = configured
		}
	}
	var opts []options.WithOption
	if sharedLibraryDir == "" {
		sharedLibraryDir = viper.GetString("onnxLibraryDir")
	}
	if sharedLibraryDir != "" {
		opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryDir))
	}
	switch strings.ToUpper(backend) {
	case "ORT":
		return sentlab.NewORTSession(opts...)
	case "GO", "":
		return sentlab.NewGoSession()
	default:
		return nil, fmt.Errorf("backend %s not recognized, accepted values are: ORT, GO", backend)
	}
}

func runClassification(ctx context.Context, tokenLevel bool) (err error) {
	session, sessionErr := newSession()
	if sessionErr != nil {
		return sessionErr
	}
	defer func() {
		err = errors.Join(err, session.Destroy())
	}()

	modelPath, cacheDir, err := resolveModel(ctx)
	if err != nil {
		return err
	}
	encoder, err := session.NewEncoder(modelPath, cacheDir)
	if err != nil {
		return err
	}
	cfg := classifiers.Config{Model: modelPath, NumLabels: numLabels, CacheDir: cacheDir}

	var process func(context.Context, []input) ([][]byte, error)
	if tokenLevel {
		classifier, classifierErr := session.NewTokenClassifier(cfg)
		if classifierErr != nil {
			return classifierErr
		}
		process = func(ctx context.Context, batch []input) ([][]byte, error) {
			return tagBatch(ctx, encoder, classifier, batch)
		}
	} else {
		classifier, classifierErr := session.NewSequenceClassifier(cfg)
		if classifierErr != nil {
			return classifierErr
		}
		process = func(ctx context.Context, batch []input) ([][]byte, error) {
			return classifyBatch(ctx, encoder, classifier, batch)
		}
	}

	inputChannel := make(chan []input, 1000)
	processedChannel := make(chan []byte, 1000)
	errorsChannel := make(chan error, 1000)
	var processedWg, writeWg sync.WaitGroup

	processedWg.Add(1)
	go func() {
		defer processedWg.Done()
		for batch := range inputChannel {
			lines, processErr := process(ctx, batch)
			if processErr != nil {
				errorsChannel <- processErr
				continue
			}
			for _, line := range lines {
				processedChannel <- line
			}
		}
	}()

	var writer io.WriteCloser
	if outputPath != "" {
		writer, err = fileutil.NewFileWriter(outputPath)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, writer.Close())
		}()
	} else {
		writer = os.Stdout
	}
	writeWg.Add(1)
	go writeOutputs(&writeWg, processedChannel, errorsChannel, writer)

	if err := readAllInputs(inputChannel); err != nil {
		return err
	}
	close(inputChannel)
	processedWg.Wait()
	close(processedChannel)
	close(errorsChannel)
	writeWg.Wait()
	return err
}

func tagBatch(ctx context.Context, encoder *encode.Encoder, classifier *classifiers.TokenClassifier, batch []input) ([][]byte, error) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}
	encoded, err := encoder.ForTokenClassification(texts, maxLen)
	if err != nil {
		return nil, err
	}
	preds, err := classifier.Predict(ctx, encoded.InputIDs, encoded.InputMask, nil, classifiers.PredictOptions{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	labels, err := classifiers.PostprocessTokenLabels(preds, encoded.InputMask,
		tokenLabelMap(classifier.Model.Label2ID, classifier.Config.NumLabels),
		classifiers.WithTrailingMask(encoded.TrailingMask))
	if err != nil {
		return nil, err
	}
	lines := make([][]byte, len(batch))
	for i := range batch {
		batch[i].Labels = labels[i]
		lines[i], err = json.Marshal(batch[i])
		if err != nil {
			return nil, err
		}
	}
	return lines, nil
}

// tokenLabelMap falls back to LABEL_n names when the model config carries no
// label vocabulary, matching the sequence command's fallback.
func tokenLabelMap(label2ID map[string]int, n int) map[string]int {
	if label2ID != nil {
		return label2ID
	}
	fallback := make(map[string]int, n)
	for i := 0; i < n; i++ {
		fallback[fmt.Sprintf("LABEL_%d", i)] = i
	}
	return fallback
}

func classifyBatch(ctx context.Context, encoder *encode.Encoder, classifier *classifiers.SequenceClassifier, batch []input) ([][]byte, error) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}
	encoded, err := encoder.ForSequenceClassification(texts, maxLen)
	if err != nil {
		return nil, err
	}
	preds, err := classifier.Predict(ctx, encoded.InputIDs, encoded.InputMask,
		classifiers.PredictOptions{BatchSize: batchSize, Probabilities: probabilities})
	if err != nil {
		return nil, err
	}
	lines := make([][]byte, len(batch))
	for i := range batch {
		label, found := classifier.Model.ID2Label[int(preds.Classes[i])]
		if !found {
			label = fmt.Sprintf("LABEL_%d", preds.Classes[i])
		}
		batch[i].Label = label
		if probabilities {
			batch[i].Scores = preds.Probabilities[i]
		}
		lines[i], err = json.Marshal(batch[i])
		if err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func writeOutputs(wg *sync.WaitGroup, processedChannel chan []byte, errorChannel chan error, writeTarget io.Writer) {
	defer wg.Done()
	for processedChannel != nil || errorChannel != nil {
		select {
		case output, ok := <-processedChannel:
			if !ok {
				processedChannel = nil
				continue
			}
			if _, err := writeTarget.Write(append(output, '\n')); err != nil {
				panic(err)
			}
		case err, ok := <-errorChannel:
			if !ok {
				errorChannel = nil
				continue
			}
			if err != nil {
				_, _ = os.Stderr.WriteString(err.Error() + "\n")
			}
		}
	}
}

func readAllInputs(inputChannel chan []input) error {
	if inputPath != "" {
		exists, err := fileutil.FileExists(inputPath)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("file %s does not exist", inputPath)
		}
		source, err := fileutil.OpenFile(inputPath)
		if err != nil {
			return err
		}
		defer func() {
			_ = source.Close()
		}()
		return readInputs(source, inputChannel)
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		// there is something to process on stdin
		return readInputs(os.Stdin, inputChannel)
	}
	return nil
}

func readInputs(inputSource io.Reader, inputChannel chan []input) error {
	inputBatch := make([]input, 0, batchSize)
	scanner := bufio.NewScanner(inputSource)
	for scanner.Scan() {
		var line input
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return err
		}
		inputBatch = append(inputBatch, line)
		if len(inputBatch) == batchSize {
			inputChannel <- inputBatch
			inputBatch = []input{}
		}
	}
	if len(inputBatch) > 0 {
		inputChannel <- inputBatch
	}
	return scanner.Err()
}
