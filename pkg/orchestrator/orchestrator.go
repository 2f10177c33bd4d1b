package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"tpulaunch/pkg/command"
	"tpulaunch/pkg/config"
	"tpulaunch/pkg/database"
	"tpulaunch/pkg/elastic"
	"tpulaunch/pkg/gcloud"
	"tpulaunch/pkg/runname"
	"tpulaunch/pkg/runner"
	"tpulaunch/pkg/session"

	"github.com/sirupsen/logrus"
)

var DebugLog func(string, ...interface{})

type Orchestrator struct {
	config        *config.Config
	configManager *config.Manager
	logger        *logrus.Logger
	db            *database.DB
	store         *session.Store
}

type LaunchOptions struct {
	Preset    string
	RunPrefix string
	Steps     int
	BatchSize int
	TPUPrefix string
	NumSlices int
	JobMode   bool
	DryRun    bool
}

type LaunchResult struct {
	RunName   string
	Preset    string
	Command   string
	Argv      []string
	DryRun    bool
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	ExitCode  int
	Success   bool
	Errors    []error
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var levelText string
	switch entry.Level {
	case logrus.InfoLevel:
		levelText = "[INF]"
	case logrus.WarnLevel:
		levelText = "[WARN]"
	case logrus.ErrorLevel:
		levelText = "[ERR]"
	case logrus.DebugLevel:
		levelText = "[DBG]"
	default:
		levelText = "[???]"
	}
	return []byte(fmt.Sprintf("%s %s\n", levelText, entry.Message)), nil
}

func NewOrchestrator(configPath string) (*Orchestrator, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&customFormatter{})

	configManager := config.NewManager(configPath)
	if err := configManager.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := configManager.GetConfig()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Warnf("Database initialization failed: %v", err)
	}

	store, err := session.NewStore(config.GetRunsDir())
	if err != nil {
		logger.Warnf("Run manifest store initialization failed: %v", err)
		store = nil
	}

	return &Orchestrator{
		config:        cfg,
		configManager: configManager,
		logger:        logger,
		db:            db,
		store:         store,
	}, nil
}

// RunLaunch performs one launch: resolve the preset, mint the run name,
// assemble the command string, point gcloud at the right project/zone,
// and hand the command to the external runner.
func (o *Orchestrator) RunLaunch(options LaunchOptions) (*LaunchResult, error) {
	startTime := time.Now()

	preset, err := o.configManager.ResolvePreset(options.Preset)
	if err != nil {
		return nil, err
	}
	presetName := options.Preset
	if presetName == "" {
		presetName = config.DefaultPreset
	}

	runPrefix := options.RunPrefix
	if runPrefix == "" {
		runPrefix = o.config.Training.RunPrefix
	}
	runName := runname.Generate(runPrefix, startTime)

	result := &LaunchResult{
		RunName:   runName,
		Preset:    presetName,
		DryRun:    options.DryRun,
		StartTime: startTime,
		Errors:    []error{},
	}

	cmdStr, err := o.buildCommand(runName, preset, options)
	if err != nil {
		return nil, fmt.Errorf("failed to build command: %w", err)
	}
	result.Command = cmdStr

	spec, err := o.buildRunSpec(runName, cmdStr, options)
	if err != nil {
		return nil, err
	}

	argv, err := spec.Argv()
	if err != nil {
		return nil, err
	}
	result.Argv = argv

	if options.DryRun {
		o.logger.Infof("Dry run, nothing launched")
		o.finishResult(result, nil)
		o.recordLaunch(result, options, database.StatusDryRun)
		return result, nil
	}

	if err := o.applyCloudConfig(); err != nil {
		return nil, err
	}

	o.logger.Infof("Launching run %s (preset %s)", runName, presetName)
	o.recordLaunch(result, options, database.StatusLaunched)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(o.config.Runner.TimeoutMinutes)*time.Minute)
	defer cancel()

	r := runner.New(runName)
	logPath := filepath.Join(config.GetRunsDir(), runName+".log.jsonl")
	if err := r.LogToFile(logPath); err != nil {
		o.logger.Warnf("Runner log capture disabled: %v", err)
		logPath = ""
	}
	runErr := r.Run(ctx, spec)

	o.finishResult(result, runErr)

	status := database.StatusFinished
	if runErr != nil {
		status = database.StatusFailed
		result.Errors = append(result.Errors, runErr)
		o.logger.Errorf("Run %s failed: %v", runName, runErr)
	} else {
		o.logger.Infof("Run %s finished in %v", runName, result.Duration)
	}

	if o.db != nil && o.db.IsEnabled() {
		if err := o.db.SetStatus(runName, status); err != nil {
			o.logger.Warnf("Failed to update run status in database: %v", err)
		}
	}
	o.writeManifest(result, options, status)
	o.shipEvent(result, status, logPath)

	return result, nil
}

func (o *Orchestrator) buildCommand(runName string, preset config.Preset, options LaunchOptions) (string, error) {
	steps := o.config.Training.Steps
	if options.Steps > 0 {
		steps = options.Steps
	}
	batchSize := o.config.Training.PerDeviceBatchSize
	if options.BatchSize > 0 {
		batchSize = options.BatchSize
	}

	entrypoint := o.config.Training.Entrypoint
	if preset.Entrypoint != "" {
		entrypoint = preset.Entrypoint
	}
	baseConfig := o.config.Training.BaseConfig
	if preset.BaseConfig != "" {
		baseConfig = preset.BaseConfig
	}

	spec := command.Spec{
		RunName:            runName,
		Entrypoint:         entrypoint,
		BaseConfig:         baseConfig,
		OutputBucket:       o.config.Storage.OutputBucket,
		DatasetPath:        o.config.Storage.DatasetPath,
		Steps:              steps,
		PerDeviceBatchSize: batchSize,
		SetupScript:        o.config.Training.SetupScript,
		EnvVars:            preset.EnvVars,
		ExtraArgs:          preset.ExtraArgs,
	}

	return spec.Build()
}

func (o *Orchestrator) buildRunSpec(runName, cmdStr string, options LaunchOptions) (runner.RunSpec, error) {
	spec := runner.RunSpec{
		RunName: runName,
		Command: cmdStr,
		Env:     runner.Envs{},
	}

	if options.JobMode {
		numSlices := o.config.TPU.Slices
		if options.NumSlices > 0 {
			numSlices = options.NumSlices
		}
		spec.Mode = runner.ModeJob
		spec.Script = o.config.Runner.JobScript
		spec.NumSlices = numSlices
		spec.TPUType = o.config.TPU.Type
		spec.RuntimeVersion = o.config.TPU.RuntimeVersion
		spec.BucketName = o.config.Storage.OutputBucket
	} else {
		tpuPrefix := o.config.Runner.TPUPrefix
		if options.TPUPrefix != "" {
			tpuPrefix = options.TPUPrefix
		}
		spec.Mode = runner.ModeSlice
		spec.Script = o.config.Runner.Script
		spec.TPUPrefix = tpuPrefix
	}

	if o.config.Cloud.Project != "" {
		spec.Env.AddIfMissing("PROJECT", o.config.Cloud.Project)
	}
	if o.config.Cloud.Zone != "" {
		spec.Env.AddIfMissing("ZONE", o.config.Cloud.Zone)
	}

	if err := spec.Validate(); err != nil {
		return runner.RunSpec{}, err
	}
	return spec, nil
}

// applyCloudConfig points the gcloud CLI at the configured project and
// zone. Repeating it converges to the same state, so every launch does
// it unconditionally.
func (o *Orchestrator) applyCloudConfig() error {
	client, err := gcloud.NewClient()
	if err != nil {
		return fmt.Errorf("failed to locate gcloud: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	project := o.config.Cloud.Project
	if project == "" {
		project, err = client.CurrentProject(ctx)
		if err != nil {
			return fmt.Errorf("no project in config and none set in gcloud: %w", err)
		}
		o.logger.Infof("Using project from gcloud config: %s", project)
		o.config.Cloud.Project = project
	}

	if err := client.Configure(ctx, project, o.config.Cloud.Zone); err != nil {
		return fmt.Errorf("failed to apply cloud configuration: %w", err)
	}

	if DebugLog != nil {
		DebugLog("cloud config applied via %s: project=%s zone=%s", client.Path(), project, o.config.Cloud.Zone)
	}
	return nil
}

func (o *Orchestrator) finishResult(result *LaunchResult, runErr error) {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.ExitCode = runner.ExitCode(runErr)
	result.Success = runErr == nil
}

func (o *Orchestrator) recordLaunch(result *LaunchResult, options LaunchOptions, status string) {
	if o.db != nil && o.db.IsEnabled() {
		rec := database.RunRecord{
			RunName:    result.RunName,
			Preset:     result.Preset,
			Project:    o.config.Cloud.Project,
			Zone:       o.config.Cloud.Zone,
			TPUType:    o.config.TPU.Type,
			Steps:      o.launchSteps(options),
			BatchSize:  o.launchBatchSize(options),
			Status:     status,
			LaunchedAt: result.StartTime,
		}
		if err := o.db.RecordLaunch(rec); err != nil {
			o.logger.Warnf("Failed to record launch in database: %v", err)
		}
	}

	if status == database.StatusDryRun {
		o.writeManifest(result, options, status)
	}
}

func (o *Orchestrator) writeManifest(result *LaunchResult, options LaunchOptions, status string) {
	if o.store == nil {
		return
	}

	m := session.Manifest{
		RunName:            result.RunName,
		Preset:             result.Preset,
		Project:            o.config.Cloud.Project,
		Zone:               o.config.Cloud.Zone,
		TPUType:            o.config.TPU.Type,
		Steps:              o.launchSteps(options),
		PerDeviceBatchSize: o.launchBatchSize(options),
		Command:            result.Command,
		Status:             status,
		DryRun:             result.DryRun,
		LaunchedAt:         result.StartTime,
	}
	if _, err := o.store.Write(m); err != nil {
		o.logger.Warnf("Failed to write run manifest: %v", err)
	}
}

type launchEvent struct {
	RunName  string    `json:"run_name"`
	Preset   string    `json:"preset"`
	Project  string    `json:"project"`
	Zone     string    `json:"zone"`
	TPUType  string    `json:"tpu_type"`
	Status   string    `json:"status"`
	ExitCode int       `json:"exit_code"`
	Duration float64   `json:"duration_seconds"`
	At       time.Time `json:"at"`
}

func (o *Orchestrator) shipEvent(result *LaunchResult, status string, logPath string) {
	if !o.config.Elastic.Enabled {
		return
	}

	client, err := elastic.New(elastic.Config{
		URL:      o.config.Elastic.URL,
		Username: o.config.Elastic.Username,
		Password: o.config.Elastic.Password,
		Index:    o.config.Elastic.Index,
	})
	if err != nil {
		o.logger.Warnf("Elasticsearch unavailable, launch event not indexed: %v", err)
		return
	}

	event := launchEvent{
		RunName:  result.RunName,
		Preset:   result.Preset,
		Project:  o.config.Cloud.Project,
		Zone:     o.config.Cloud.Zone,
		TPUType:  o.config.TPU.Type,
		Status:   status,
		ExitCode: result.ExitCode,
		Duration: result.Duration.Seconds(),
		At:       result.EndTime,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	docID := result.RunName + ":" + status
	if err := client.IndexEvent(ctx, docID, event); err != nil {
		o.logger.Warnf("Failed to index launch event: %v", err)
	}

	if logPath == "" {
		return
	}
	logCtx, cancelLog := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelLog()
	if err := client.IndexJSONLinesFile(logCtx, logPath); err != nil {
		o.logger.Warnf("Failed to index runner log %s: %v", logPath, err)
	}
}

func (o *Orchestrator) launchSteps(options LaunchOptions) int {
	if options.Steps > 0 {
		return options.Steps
	}
	return o.config.Training.Steps
}

func (o *Orchestrator) launchBatchSize(options LaunchOptions) int {
	if options.BatchSize > 0 {
		return options.BatchSize
	}
	return o.config.Training.PerDeviceBatchSize
}

func (o *Orchestrator) GetConfig() *config.Config {
	return o.config
}

func (o *Orchestrator) GetConfigManager() *config.Manager {
	return o.configManager
}

func (o *Orchestrator) GetDB() *database.DB {
	return o.db
}

func (o *Orchestrator) GetStore() *session.Store {
	return o.store
}

// ApplyCloudConfig is the standalone entry used by the configure
// subcommand.
func (o *Orchestrator) ApplyCloudConfig() error {
	return o.applyCloudConfig()
}
