package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"

	"github.com/doodlesbykumbi/vaultsweep/pkg/config"
	"github.com/doodlesbykumbi/vaultsweep/pkg/patterns"
	"github.com/doodlesbykumbi/vaultsweep/pkg/pipeline"
	"github.com/doodlesbykumbi/vaultsweep/pkg/rewriter"
	"github.com/doodlesbykumbi/vaultsweep/pkg/scanner"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
	"github.com/doodlesbykumbi/vaultsweep/pkg/validator"
)

// StepsContext holds state shared between step definitions
type StepsContext struct {
	tc        *TestContext
	dir       string
	storeRoot string
	client    store.Client
	summary   *pipeline.Summary
	result    *validator.Result
}

// NewStepsContext creates a new steps context working in dir
func NewStepsContext(tc *TestContext, dir string) *StepsContext {
	return &StepsContext{tc: tc, dir: dir}
}

// RegisterSteps registers all step definitions
func (s *StepsContext) RegisterSteps(sc *godog.ScenarioContext) {
	// Background steps
	sc.Step(`^the "([^"]*)" secret store$`, s.theSecretStore)
	sc.Step(`^a project "([^"]*)"$`, s.aProject)
	sc.Step(`^the file "([^"]*)" contains:$`, s.theFileContains)

	// Lifecycle steps
	sc.Step(`^I scan, store and replace secrets$`, s.iScanStoreAndReplace)
	sc.Step(`^I validate the project$`, s.iValidateTheProject)
	sc.Step(`^(\d+) secrets? should be stored$`, s.secretsShouldBeStored)
	sc.Step(`^(\d+) secrets? should be replaced$`, s.secretsShouldBeReplaced)
	sc.Step(`^the file "([^"]*)" should not contain "([^"]*)"$`, s.theFileShouldNotContain)
	sc.Step(`^the file "([^"]*)" should contain a reference for "([^"]*)"$`, s.theFileShouldContainReference)
	sc.Step(`^the store should hold "([^"]*)" for "([^"]*)"$`, s.theStoreShouldHold)
	sc.Step(`^(\d+) references? should be valid$`, s.referencesShouldBeValid)
	sc.Step(`^(\d+) references? should be invalid$`, s.referencesShouldBeInvalid)
}

func (s *StepsContext) theSecretStore(backend string) error {
	c, err := s.tc.Client(backend)
	if err != nil {
		return err
	}
	s.client = c
	return nil
}

func (s *StepsContext) aProject(name string) error {
	// Each scenario gets its own subtree so stored paths never collide.
	s.dir = filepath.Join(s.dir, name)
	s.storeRoot = "secret/vaultsweep-it/" + name + "-" + filepath.Base(filepath.Dir(s.dir))
	return os.MkdirAll(s.dir, 0o755)
}

func (s *StepsContext) theFileContains(name string, body *godog.DocString) error {
	path := filepath.Join(s.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body.Content+"\n"), 0o644)
}

func (s *StepsContext) iScanStoreAndReplace() error {
	registry, err := patterns.New(map[string]config.PatternConfig{
		"api_key": {Patterns: []config.PatternEntry{
			{Regex: `([A-Z_]*API_KEY)=(\S+)`, IdentifierGroup: 1, ValueGroup: 2},
		}},
		"password": {Patterns: []config.PatternEntry{
			{Regex: `([A-Z_]*PASSWORD)=(\S+)`, IdentifierGroup: 1, ValueGroup: 2},
		}, VaultPath: "passwords"},
	})
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Config{
		Client:    s.client,
		Scanner:   scanner.New(registry, scanner.Options{Workers: 2}),
		Rewriter:  rewriter.New(rewriter.NewBackups(filepath.Join(s.dir, ".windsurf", "backups")), nil),
		StoreRoot: s.storeRoot,
		Workers:   4,
	})
	s.summary, err = p.Run(context.Background(), pipeline.Options{
		Root:    s.dir,
		Scan:    true,
		Store:   true,
		Replace: true,
	})
	return err
}

func (s *StepsContext) iValidateTheProject() error {
	v := validator.New(s.client, validator.Options{Workers: 2})
	res, err := v.Run(context.Background(), s.dir, []string{"**/*.env", "**/.env*"})
	if err != nil {
		return err
	}
	s.result = res
	return nil
}

func (s *StepsContext) secretsShouldBeStored(n int) error {
	if s.summary == nil {
		return fmt.Errorf("no run recorded")
	}
	if s.summary.Stored != n {
		return fmt.Errorf("expected %d stored secrets, got %d (failures: %v)", n, s.summary.Stored, s.summary.StoreFailures)
	}
	return nil
}

func (s *StepsContext) secretsShouldBeReplaced(n int) error {
	if s.summary == nil {
		return fmt.Errorf("no run recorded")
	}
	if got := s.summary.Replaced(); got != n {
		return fmt.Errorf("expected %d replaced secrets, got %d", n, got)
	}
	return nil
}

func (s *StepsContext) readFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	return string(data), err
}

func (s *StepsContext) theFileShouldNotContain(name, text string) error {
	content, err := s.readFile(name)
	if err != nil {
		return err
	}
	if strings.Contains(content, text) {
		return fmt.Errorf("file %s still contains %q:\n%s", name, text, content)
	}
	return nil
}

func (s *StepsContext) theFileShouldContainReference(name, identifier string) error {
	content, err := s.readFile(name)
	if err != nil {
		return err
	}
	prefix := identifier + "={{vault:" + s.storeRoot + "/"
	if !strings.Contains(content, prefix) {
		return fmt.Errorf("file %s has no reference for %s:\n%s", name, identifier, content)
	}
	return nil
}

func (s *StepsContext) theStoreShouldHold(value, identifier string) error {
	if s.summary == nil || s.summary.Report == nil {
		return fmt.Errorf("no scan recorded")
	}
	for _, d := range s.summary.Report.Detections() {
		if d.Identifier != identifier {
			continue
		}
		got, err := s.client.Get(context.Background(), rewriter.StorePath(s.storeRoot, d), d.Key)
		if err != nil {
			return err
		}
		if got != value {
			return fmt.Errorf("expected stored value %q, got %q", value, got)
		}
		return nil
	}
	return fmt.Errorf("no detection for %s", identifier)
}

func (s *StepsContext) referencesShouldBeValid(n int) error {
	if s.result == nil {
		return fmt.Errorf("no validation recorded")
	}
	if s.result.ValidReferences != n {
		return fmt.Errorf("expected %d valid references, got %d", n, s.result.ValidReferences)
	}
	return nil
}

func (s *StepsContext) referencesShouldBeInvalid(n int) error {
	if s.result == nil {
		return fmt.Errorf("no validation recorded")
	}
	if s.result.InvalidReferences != n {
		return fmt.Errorf("expected %d invalid references, got %d", n, s.result.InvalidReferences)
	}
	return nil
}
