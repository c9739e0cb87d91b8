package rewards

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	services "github.com/glkeru/rewards/internal/services"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Заголовок с идентификатором студента
const StudentHeader = "X-Student-Email"

type RewardsHandler struct {
	router  *mux.Router
	service *services.RewardsService
	db      interf.RuleStorage
	logger  *zap.Logger
}

func NewHandler(service *services.RewardsService, db interf.RuleStorage, logger *zap.Logger) *RewardsHandler {
	router := mux.NewRouter()
	handler := &RewardsHandler{router, service, db, logger}
	router.Use(MiddlewareLog(), MiddlewareJSON())

	// студент
	router.HandleFunc("/quests/{id}/play", handler.PlayQuestHandler).Methods(http.MethodPost)
	router.HandleFunc("/rewards/{id}/redeem", handler.RedeemHandler).Methods(http.MethodPost)
	router.HandleFunc("/notifications", handler.NotificationsHandler).Methods(http.MethodGet)
	router.HandleFunc("/notifications/read", handler.MarkReadHandler).Methods(http.MethodPost)
	router.HandleFunc("/daily-reward", handler.DailyRewardHandler).Methods(http.MethodPost)
	router.HandleFunc("/balance", handler.BalanceHandler).Methods(http.MethodGet)
	router.HandleFunc("/transactions", handler.TransactionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/rules/evaluate", handler.EvaluateHandler).Methods(http.MethodPost)

	// правила
	router.HandleFunc("/rules", handler.GetActiveRulesHandler).Methods(http.MethodGet)
	router.HandleFunc("/rules/all", handler.GetAllRulesHandler).Methods(http.MethodGet)
	router.HandleFunc("/rule/{id}", handler.GetRuleHandler).Methods(http.MethodGet)
	router.HandleFunc("/rule", handler.SaveRuleHandler).Methods(http.MethodPost)

	// metrics
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return handler
}

func (r *RewardsHandler) ServeHTTP(w http.ResponseWriter, res *http.Request) {
	r.router.ServeHTTP(w, res)
}

func (r *RewardsHandler) Log(msg string, service string, err error) {
	r.logger.Error(msg,
		zap.String("service", service),
		zap.Error(err),
	)
}

// HTTP статус по коду ошибки
func StatusCode(o services.Outcome) int {
	switch o.Code {
	case "":
		return http.StatusOK
	case models.CodeInvalidInput, models.CodeConfirmationInvalid:
		return http.StatusBadRequest
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeNotEligible:
		return http.StatusConflict
	case models.CodeInsufficientCoins, models.CodeUnsupportedType:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (r *RewardsHandler) write(w http.ResponseWriter, status int, response any, service string) {
	j, err := json.Marshal(response)
	if err != nil {
		r.Log("Marshal", service, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(j)
}

// Тело запроса; пустое тело допустимо
func (r *RewardsHandler) decode(req *http.Request, v any) error {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	defer req.Body.Close()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func (r *RewardsHandler) badRequest(w http.ResponseWriter, service string, err error) {
	r.Log("Unmarshal", service, err)
	outcome := services.Outcome{State: services.StateRejected, Code: models.CodeInvalidInput, Error: "Body is not correct"}
	r.write(w, http.StatusBadRequest, outcome, service)
}

// студент: заголовок, затем поле запроса, затем параметр student
func student(req *http.Request, fromBody string) string {
	if s := strings.TrimSpace(req.Header.Get(StudentHeader)); s != "" {
		return s
	}
	if fromBody != "" {
		return fromBody
	}
	return req.URL.Query().Get("student")
}

// Выполнение квеста
func (r RewardsHandler) PlayQuestHandler(w http.ResponseWriter, req *http.Request) {
	request := services.PlayQuestRequest{}
	if err := r.decode(req, &request); err != nil {
		r.badRequest(w, "PlayQuestHandler", err)
		return
	}
	request.QuestID = mux.Vars(req)["id"]
	request.Student = student(req, request.Student)

	response := r.service.PlayQuest(req.Context(), request)
	r.write(w, StatusCode(response.Outcome), response, "PlayQuestHandler")
}

// Получение награды
func (r RewardsHandler) RedeemHandler(w http.ResponseWriter, req *http.Request) {
	request := services.RedeemRequest{}
	if err := r.decode(req, &request); err != nil {
		r.badRequest(w, "RedeemHandler", err)
		return
	}
	request.RewardID = mux.Vars(req)["id"]
	request.Student = student(req, request.Student)

	response := r.service.RedeemReward(req.Context(), request)
	r.write(w, StatusCode(response.Outcome), response, "RedeemHandler")
}

// Уведомления, новые сверху
func (r RewardsHandler) NotificationsHandler(w http.ResponseWriter, req *http.Request) {
	response := r.service.FetchNotifications(req.Context(), student(req, ""))
	r.write(w, StatusCode(response.Outcome), response, "NotificationsHandler")
}

// Отметить уведомления прочитанными
func (r RewardsHandler) MarkReadHandler(w http.ResponseWriter, req *http.Request) {
	request := services.MarkReadRequest{}
	if err := r.decode(req, &request); err != nil {
		r.badRequest(w, "MarkReadHandler", err)
		return
	}
	request.Student = student(req, request.Student)

	response := r.service.MarkNotificationRead(req.Context(), request)
	r.write(w, StatusCode(response.Outcome), response, "MarkReadHandler")
}

func (r RewardsHandler) DailyRewardHandler(w http.ResponseWriter, req *http.Request) {
	response := r.service.ClaimDailyReward(req.Context(), student(req, ""))
	r.write(w, StatusCode(response.Outcome), response, "DailyRewardHandler")
}

func (r RewardsHandler) BalanceHandler(w http.ResponseWriter, req *http.Request) {
	response := r.service.GetBalance(req.Context(), student(req, ""))
	r.write(w, StatusCode(response.Outcome), response, "BalanceHandler")
}

// История операций: from/to в RFC3339
func (r RewardsHandler) TransactionsHandler(w http.ResponseWriter, req *http.Request) {
	var from, to time.Time
	for name, target := range map[string]*time.Time{"from": &from, "to": &to} {
		v := req.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			outcome := services.Outcome{State: services.StateRejected, Code: models.CodeInvalidInput, Error: name + " must be RFC3339"}
			r.write(w, http.StatusBadRequest, outcome, "TransactionsHandler")
			return
		}
		*target = t
	}
	response := r.service.Transactions(req.Context(), student(req, ""), from, to)
	r.write(w, StatusCode(response.Outcome), response, "TransactionsHandler")
}

// Событие для правил
func (r RewardsHandler) EvaluateHandler(w http.ResponseWriter, req *http.Request) {
	request := services.EvaluateRequest{}
	if err := r.decode(req, &request); err != nil {
		r.badRequest(w, "EvaluateHandler", err)
		return
	}
	request.Student = student(req, request.Student)

	response := r.service.EvaluateRules(req.Context(), request)
	r.write(w, StatusCode(response.Outcome), response, "EvaluateHandler")
}

// Получить активные правила; trigger - фильтр по событию
func (r RewardsHandler) GetActiveRulesHandler(w http.ResponseWriter, req *http.Request) {
	rules, err := r.db.GetActiveRules(req.Context(), req.URL.Query().Get("trigger"))
	if err != nil {
		r.Log("DB get", "GetActiveRulesHandler", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rules == nil {
		http.Error(w, "Active rules not found", http.StatusNotFound)
		return
	}
	r.write(w, http.StatusOK, rules, "GetActiveRulesHandler")
}

// Получить все правила
func (r RewardsHandler) GetAllRulesHandler(w http.ResponseWriter, req *http.Request) {
	rules, err := r.db.GetAllRules(req.Context())
	if err != nil {
		r.Log("DB get", "GetAllRulesHandler", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rules == nil {
		http.Error(w, "Rules not found", http.StatusNotFound)
		return
	}
	r.write(w, http.StatusOK, rules, "GetAllRulesHandler")
}

// Получить правило
func (r RewardsHandler) GetRuleHandler(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	rule, err := r.db.GetRule(req.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "Rule not found", http.StatusNotFound)
		return
	} else if err != nil {
		r.Log("DB get", "GetRuleHandler", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.write(w, http.StatusOK, rule, "GetRuleHandler")
}

type SaveRuleResponse struct {
	ID string `json:"id"`
}

// Создать/обновить правило
func (r RewardsHandler) SaveRuleHandler(w http.ResponseWriter, req *http.Request) {
	rule := models.Rule{}
	if err := r.decode(req, &rule); err != nil {
		r.Log("Unmarshal", "SaveRuleHandler", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := services.ValidateRule(rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := r.db.SaveRule(req.Context(), rule)
	if err != nil {
		r.Log("SaveRule", "SaveRuleHandler", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.write(w, http.StatusOK, SaveRuleResponse{id}, "SaveRuleHandler")
}
