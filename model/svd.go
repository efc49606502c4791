package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rushteam/movierec/core"
)

// SVDConfig 是带偏置矩阵分解（Funk SVD）的超参数。
// 超参数属于调优选择，不影响正确性约定。
type SVDConfig struct {
	// Factors 隐向量维度
	Factors int
	// Epochs SGD 轮数
	Epochs int
	// LearningRate 学习率
	LearningRate float64
	// Regularization L2 正则系数
	Regularization float64
	// InitMean / InitStd 隐向量正态初始化参数
	InitMean float64
	InitStd  float64
	// Seed 初始化随机种子；0 表示用当前时间，结果不可复现
	Seed uint64
	// MinScore / MaxScore 预测值裁剪区间
	MinScore float64
	MaxScore float64
}

// DefaultSVDConfig 返回默认超参数。
func DefaultSVDConfig() SVDConfig {
	return SVDConfig{
		Factors:        100,
		Epochs:         20,
		LearningRate:   0.005,
		Regularization: 0.02,
		InitMean:       0,
		InitStd:        0.1,
		MinScore:       core.MinScore,
		MaxScore:       core.MaxScore,
	}
}

// SVD 是基于 SGD 训练的带偏置矩阵分解模型。
//
// 预测分数 = μ + b_u + b_i + p_u · q_i
//
// 训练是评分集合的纯函数，唯一的不确定性来源是初始化种子（Seed）。
// 即使种子相同，也不承诺跨 Go 版本/平台的逐位一致。
//
// Fit 与 Predict 不能并发调用：引擎每次重建都会创建新的 SVD 再整体替换。
type SVD struct {
	cfg SVDConfig

	trained bool
	mu      float64

	userIndex map[int64]int
	itemIndex map[int64]int

	bu []float64
	bi []float64
	pu [][]float64
	qi [][]float64
}

// NewSVD 创建一个未训练（缺失状态）的模型，非法参数回退为默认值。
func NewSVD(cfg SVDConfig) *SVD {
	def := DefaultSVDConfig()
	if cfg.Factors <= 0 {
		cfg.Factors = def.Factors
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = def.Epochs
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.Regularization < 0 {
		cfg.Regularization = def.Regularization
	}
	if cfg.InitStd < 0 {
		cfg.InitStd = def.InitStd
	}
	if cfg.MaxScore <= cfg.MinScore {
		cfg.MinScore, cfg.MaxScore = def.MinScore, def.MaxScore
	}
	return &SVD{cfg: cfg}
}

func (m *SVD) Name() string { return "svd" }

// Absent 表示模型未训练或训练集为空。
func (m *SVD) Absent() bool { return m == nil || !m.trained }

// Config 返回实际使用的超参数。
func (m *SVD) Config() SVDConfig { return m.cfg }

// Fit 在评分集合上训练模型。评分为空时模型进入缺失状态，不报错。
func (m *SVD) Fit(ctx context.Context, ratings []core.Rating) error {
	m.reset()
	if len(ratings) == 0 {
		return nil
	}

	seed := m.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	// 建立 ID 到行号的映射，并计算全局均值
	var sum float64
	users := make([]int, len(ratings))
	items := make([]int, len(ratings))
	for k, r := range ratings {
		u, ok := m.userIndex[r.UserID]
		if !ok {
			u = len(m.userIndex)
			m.userIndex[r.UserID] = u
		}
		i, ok := m.itemIndex[r.MovieID]
		if !ok {
			i = len(m.itemIndex)
			m.itemIndex[r.MovieID] = i
		}
		users[k], items[k] = u, i
		sum += r.Score
	}
	m.mu = sum / float64(len(ratings))

	m.bu = make([]float64, len(m.userIndex))
	m.bi = make([]float64, len(m.itemIndex))
	m.pu = m.initFactors(rng, len(m.userIndex))
	m.qi = m.initFactors(rng, len(m.itemIndex))

	lr, reg := m.cfg.LearningRate, m.cfg.Regularization
	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			m.reset()
			return err
		}
		for k, r := range ratings {
			u, i := users[k], items[k]
			pu, qi := m.pu[u], m.qi[i]

			err := r.Score - (m.mu + m.bu[u] + m.bi[i] + dotProduct(pu, qi))

			m.bu[u] += lr * (err - reg*m.bu[u])
			m.bi[i] += lr * (err - reg*m.bi[i])
			for f := range pu {
				puf, qif := pu[f], qi[f]
				pu[f] += lr * (err*qif - reg*puf)
				qi[f] += lr * (err*puf - reg*qif)
			}
		}
	}

	m.trained = true
	return nil
}

func (m *SVD) reset() {
	m.trained = false
	m.mu = 0
	m.userIndex = make(map[int64]int)
	m.itemIndex = make(map[int64]int)
	m.bu, m.bi, m.pu, m.qi = nil, nil, nil, nil
}

func (m *SVD) initFactors(rng *rand.Rand, rows int) [][]float64 {
	out := make([][]float64, rows)
	for r := range out {
		vec := make([]float64, m.cfg.Factors)
		for f := range vec {
			vec[f] = m.cfg.InitMean + m.cfg.InitStd*rng.NormFloat64()
		}
		out[r] = vec
	}
	return out
}

// Predict 返回预测评分（裁剪到评分区间）。
//
// 未见过的用户或电影只使用可用的偏置项：
//   - 用户、电影都已知：μ + b_u + b_i + p_u·q_i
//   - 只知道用户：μ + b_u
//   - 只知道电影：μ + b_i
//   - 都未知：μ
func (m *SVD) Predict(userID, movieID int64) (float64, error) {
	if m.Absent() {
		return 0, core.ErrModelAbsent
	}
	est := m.mu
	u, uok := m.userIndex[userID]
	i, iok := m.itemIndex[movieID]
	if uok {
		est += m.bu[u]
	}
	if iok {
		est += m.bi[i]
	}
	if uok && iok {
		est += dotProduct(m.pu[u], m.qi[i])
	}
	if math.IsNaN(est) || math.IsInf(est, 0) {
		return 0, core.NewPredictionFailure(userID, movieID, fmt.Errorf("non-finite estimate %v", est))
	}
	return m.clip(est), nil
}

// Known 报告用户/电影是否出现在训练集中。
func (m *SVD) Known(userID, movieID int64) (userKnown, movieKnown bool) {
	if m.Absent() {
		return false, false
	}
	_, userKnown = m.userIndex[userID]
	_, movieKnown = m.itemIndex[movieID]
	return userKnown, movieKnown
}

// GlobalMean 返回训练集的全局均值 μ。
func (m *SVD) GlobalMean() float64 { return m.mu }

// RMSE 计算模型在给定评分集合上的均方根误差，用于训练日志与测试。
func (m *SVD) RMSE(ratings []core.Rating) float64 {
	if m.Absent() || len(ratings) == 0 {
		return 0
	}
	var sq float64
	for _, r := range ratings {
		est, err := m.Predict(r.UserID, r.MovieID)
		if err != nil {
			continue
		}
		d := r.Score - est
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(ratings)))
}

func (m *SVD) clip(v float64) float64 {
	return math.Max(m.cfg.MinScore, math.Min(m.cfg.MaxScore, v))
}

// dotProduct 计算两个向量的点积
func dotProduct(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

var _ Predictor = (*SVD)(nil)
