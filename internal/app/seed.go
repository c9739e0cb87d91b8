package rewards

import (
	"context"
	"fmt"
	"os"

	models "github.com/glkeru/rewards/internal/models"
	services "github.com/glkeru/rewards/internal/services"
	"gopkg.in/yaml.v3"
)

// Файл с начальными данными: студенты, квесты, награды, правила
type Seed struct {
	Students []models.Student    `yaml:"students"`
	Quests   []models.Quest      `yaml:"quests"`
	Rewards  []models.RewardItem `yaml:"rewards"`
	Rules    []models.Rule       `yaml:"rules"`
}

func LoadSeed(path string) (Seed, error) {
	var seed Seed
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, err
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seed, &models.ConfigurationError{Code: models.CodeConfiguration, Subject: "seed", Err: err}
	}
	for _, item := range seed.Rewards {
		if !item.PromotionType.IsValid() {
			return seed, &models.ConfigurationError{
				Code:    models.CodeUnsupportedType,
				Subject: "reward " + item.ID,
				Err:     fmt.Errorf("unknown promotion type %q", item.PromotionType),
			}
		}
	}
	return seed, nil
}

// Students пишутся только если их еще нет; при ошибке в правилах ничего не пишется
func (s Seed) Apply(ctx context.Context, storage *Storage) error {
	for _, rule := range s.Rules {
		if err := services.ValidateRule(rule); err != nil {
			return &models.ConfigurationError{Code: models.CodeConfiguration, Subject: "seed rule " + rule.ID, Err: err}
		}
	}
	if storage.Students != nil {
		for _, student := range s.Students {
			if _, err := storage.Students.FindStudentByEmail(ctx, student.Email); err == nil {
				continue
			}
			if _, err := storage.Students.CreateStudent(ctx, student); err != nil {
				return fmt.Errorf("seed student %s: %w", student.Email, err)
			}
		}
	}
	if storage.Catalog != nil {
		for _, quest := range s.Quests {
			if _, err := storage.Catalog.SaveQuest(ctx, quest); err != nil {
				return fmt.Errorf("seed quest %s: %w", quest.ID, err)
			}
		}
		for _, item := range s.Rewards {
			if _, err := storage.Catalog.SaveRewardItem(ctx, item); err != nil {
				return fmt.Errorf("seed reward %s: %w", item.ID, err)
			}
		}
	}
	if storage.Rules != nil {
		for _, rule := range s.Rules {
			if _, err := storage.Rules.SaveRule(ctx, rule); err != nil {
				return fmt.Errorf("seed rule %s: %w", rule.ID, err)
			}
		}
	}
	return nil
}
