package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	models "github.com/glkeru/rewards/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoDB struct {
	mgo     *mongo.Client
	rules   *mongo.Collection
	quests  *mongo.Collection
	rewards *mongo.Collection
	logger  *zap.Logger
}

func NewMongoDB(logger *zap.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mng := os.Getenv("REWARDS_MONGO")
	if mng == "" {
		return nil, fmt.Errorf("env REWARDS_MONGO is not set")
	}

	options := options.Client().ApplyURI("mongodb://" + mng)
	client, err := mongo.Connect(ctx, options)
	if err != nil {
		return nil, err
	}
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}
	db := client.Database("rewardsDB")

	return &MongoDB{
		mgo:     client,
		rules:   db.Collection("rules"),
		quests:  db.Collection("quests"),
		rewards: db.Collection("rewards"),
		logger:  logger,
	}, nil
}

func (r *MongoDB) Close(ctx context.Context) error {
	return r.mgo.Disconnect(ctx)
}

// Документ правила: условия и действия хранятся JSON-строками
type ruleDocument struct {
	ID              string                  `bson:"id"`
	Name            string                  `bson:"name"`
	Status          string                  `bson:"status"`
	TriggerEvent    string                  `bson:"trigger_event"`
	Priority        int                     `bson:"priority"`
	Conditions      string                  `bson:"conditions"`
	RewardLogic     string                  `bson:"reward_logic"`
	TimeConstraints *models.TimeConstraints `bson:"time_constraints,omitempty"`
	Seq             int64                   `bson:"seq"`
}

func encodeRule(rule models.Rule) (ruleDocument, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return ruleDocument{}, err
	}
	logic, err := json.Marshal(rule.RewardLogic)
	if err != nil {
		return ruleDocument{}, err
	}
	return ruleDocument{
		ID:              rule.ID,
		Name:            rule.Name,
		Status:          string(rule.Status),
		TriggerEvent:    rule.TriggerEvent,
		Priority:        rule.Priority,
		Conditions:      string(conditions),
		RewardLogic:     string(logic),
		TimeConstraints: rule.TimeConstraints,
	}, nil
}

// Разбор JSON один раз на границе хранилища
func decodeRule(doc ruleDocument) (models.Rule, error) {
	rule := models.Rule{
		ID:              doc.ID,
		Name:            doc.Name,
		Status:          models.RuleStatus(doc.Status),
		TriggerEvent:    doc.TriggerEvent,
		Priority:        doc.Priority,
		TimeConstraints: doc.TimeConstraints,
	}
	if doc.Conditions != "" {
		if err := json.Unmarshal([]byte(doc.Conditions), &rule.Conditions); err != nil {
			return rule, &models.ConfigurationError{Subject: "rule " + doc.ID + " conditions", Err: err}
		}
	}
	if doc.RewardLogic != "" {
		if err := json.Unmarshal([]byte(doc.RewardLogic), &rule.RewardLogic); err != nil {
			return rule, &models.ConfigurationError{Subject: "rule " + doc.ID + " reward_logic", Err: err}
		}
	}
	return rule, nil
}

// битые правила пропускаются с записью в лог
func (r *MongoDB) findRules(ctx context.Context, filter bson.M) ([]models.Rule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	result, err := r.rules.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer result.Close(ctx)

	var rules []models.Rule
	for result.Next(ctx) {
		var doc ruleDocument
		err := result.Decode(&doc)
		if err != nil {
			return nil, err
		}
		rule, err := decodeRule(doc)
		if err != nil {
			r.logger.Error("Rule decode",
				zap.String("service", "findRules"),
				zap.String("rule", doc.ID),
				zap.Error(err),
			)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, result.Err()
}

func (r *MongoDB) GetActiveRules(ctx context.Context, trigger string) ([]models.Rule, error) {
	filter := bson.M{"status": string(models.RuleActive)}
	if trigger != "" {
		filter["trigger_event"] = trigger
	}
	return r.findRules(ctx, filter)
}

func (r *MongoDB) GetAllRules(ctx context.Context) ([]models.Rule, error) {
	return r.findRules(ctx, bson.M{})
}

func (r *MongoDB) SaveRule(ctx context.Context, rule models.Rule) (string, error) {
	// если ID пустой, значит новое правило
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	doc, err := encodeRule(rule)
	if err != nil {
		return "", err
	}
	// порядок вставки сохраняется для стабильной сортировки по приоритету
	existing := r.rules.FindOne(ctx, bson.M{"id": rule.ID})
	var old ruleDocument
	switch err := existing.Decode(&old); {
	case err == nil:
		doc.Seq = old.Seq
	case errors.Is(err, mongo.ErrNoDocuments):
		doc.Seq = time.Now().UnixNano()
	default:
		return "", err
	}
	filter := bson.M{"id": rule.ID}
	_, err = r.rules.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return "", err
	}
	return rule.ID, nil
}

func (r *MongoDB) GetRule(ctx context.Context, ruleId string) (models.Rule, error) {
	var doc ruleDocument
	err := r.rules.FindOne(ctx, bson.M{"id": ruleId}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Rule{}, &models.NotFoundError{Entity: "rule", ID: ruleId}
		}
		return models.Rule{}, err
	}
	return decodeRule(doc)
}

// каталог

func (r *MongoDB) GetQuest(ctx context.Context, id string) (models.Quest, error) {
	var quest models.Quest
	err := r.quests.FindOne(ctx, bson.M{"id": id}).Decode(&quest)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return quest, &models.NotFoundError{Entity: "quest", ID: id}
		}
		return quest, &models.PersistenceError{Op: "get quest", Err: err}
	}
	return quest, nil
}

func (r *MongoDB) GetRewardItem(ctx context.Context, id string) (models.RewardItem, error) {
	var item models.RewardItem
	err := r.rewards.FindOne(ctx, bson.M{"id": id}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return item, &models.NotFoundError{Entity: "reward", ID: id}
		}
		return item, &models.PersistenceError{Op: "get reward", Err: err}
	}
	return item, nil
}

func (r *MongoDB) ListQuests(ctx context.Context) ([]models.Quest, error) {
	result, err := r.quests.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var quests []models.Quest
	if err := result.All(ctx, &quests); err != nil {
		return nil, err
	}
	return quests, nil
}

func (r *MongoDB) ListRewardItems(ctx context.Context) ([]models.RewardItem, error) {
	result, err := r.rewards.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var items []models.RewardItem
	if err := result.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *MongoDB) SaveQuest(ctx context.Context, quest models.Quest) (string, error) {
	if quest.ID == "" {
		quest.ID = uuid.NewString()
	}
	_, err := r.quests.ReplaceOne(ctx, bson.M{"id": quest.ID}, quest, options.Replace().SetUpsert(true))
	if err != nil {
		return "", err
	}
	return quest.ID, nil
}

func (r *MongoDB) SaveRewardItem(ctx context.Context, item models.RewardItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := r.rewards.ReplaceOne(ctx, bson.M{"id": item.ID}, item, options.Replace().SetUpsert(true))
	if err != nil {
		return "", err
	}
	return item.ID, nil
}
