// Package catalog holds the fixed, ordered list of campaign tasks.
// The list is loaded once at boot and never changes afterwards.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ad/go-telegram-airdrop/internal/models"
)

//go:embed tasks.yaml
var defaultTasks []byte

var ErrTaskNotFound = errors.New("task not found")

type fileTask struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
	ButtonText  string `yaml:"button_text"`
}

type file struct {
	Campaign struct {
		Title  string `yaml:"title"`
		Reward string `yaml:"reward"`
	} `yaml:"campaign"`
	Tasks []fileTask `yaml:"tasks"`
}

type Catalog struct {
	campaign models.Campaign
	tasks    []models.Task
}

// Load reads the catalog from path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultTasks)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	return Parse(data)
}

func Default() *Catalog {
	c, err := Parse(defaultTasks)
	if err != nil {
		panic(fmt.Sprintf("built-in task catalog is invalid: %v", err))
	}
	return c
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}

	if len(f.Tasks) == 0 {
		return nil, errors.New("task catalog is empty")
	}

	tasks := make([]models.Task, 0, len(f.Tasks))
	for i, t := range f.Tasks {
		position := i + 1
		if t.ID != 0 && t.ID != position {
			return nil, fmt.Errorf("task %q: id %d does not match position %d", t.Name, t.ID, position)
		}
		task := models.Task{
			ID:          position,
			Name:        strings.TrimSpace(t.Name),
			Description: strings.TrimSpace(t.Description),
			URL:         strings.TrimSpace(t.URL),
			ButtonText:  strings.TrimSpace(t.ButtonText),
		}
		if err := validateTask(task); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return &Catalog{
		campaign: models.Campaign{
			Title:  strings.TrimSpace(f.Campaign.Title),
			Reward: strings.TrimSpace(f.Campaign.Reward),
		},
		tasks: tasks,
	}, nil
}

// New builds a catalog from tasks already in memory. IDs are reassigned by position.
func New(campaign models.Campaign, tasks []models.Task) (*Catalog, error) {
	if len(tasks) == 0 {
		return nil, errors.New("task catalog is empty")
	}
	own := make([]models.Task, len(tasks))
	for i, t := range tasks {
		t.ID = i + 1
		if err := validateTask(t); err != nil {
			return nil, err
		}
		own[i] = t
	}
	return &Catalog{campaign: campaign, tasks: own}, nil
}

func validateTask(t models.Task) error {
	if t.Name == "" {
		return fmt.Errorf("task %d: name is required", t.ID)
	}
	if t.ButtonText == "" {
		return fmt.Errorf("task %d: button_text is required", t.ID)
	}
	if t.URL == "" {
		return fmt.Errorf("task %d: url is required", t.ID)
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("task %d: invalid url: %w", t.ID, err)
	}
	switch u.Scheme {
	case "http", "https", "tg":
	default:
		return fmt.Errorf("task %d: unsupported url scheme %q", t.ID, u.Scheme)
	}
	return nil
}

// Get returns the task at the 1-based position.
func (c *Catalog) Get(position int) (models.Task, error) {
	if position < 1 || position > len(c.tasks) {
		return models.Task{}, fmt.Errorf("%w: position %d", ErrTaskNotFound, position)
	}
	return c.tasks[position-1], nil
}

func (c *Catalog) Count() int {
	return len(c.tasks)
}

func (c *Catalog) Tasks() []models.Task {
	out := make([]models.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

func (c *Catalog) Campaign() models.Campaign {
	return c.campaign
}
