package model

// Predictor 是隐因子模型的最小抽象：给定用户与电影，输出预测评分。
//
// 约定：
//   - Absent() 为 true 时不应调用 Predict；调用时返回 core.ErrModelAbsent
//   - 训练集中出现过的 (user, movie) 不会失败
//   - 未见过的用户/电影退化为全局均值 + 偏置估计，而不是报错
type Predictor interface {
	Name() string
	Predict(userID, movieID int64) (float64, error)
	Absent() bool
}
