// Package saga 实现自由职业任务生命周期的编排内核。
//
// 一条任务从 DISCOVERY 开始，顺序经过资质评估、竞标、签约、资金托管、
// 执行、质检（可能与返工往返若干轮）、交付、放款与评价，最终进入
// COMPLETED、FAILED 或 CANCELLED 三个终态之一。每个阶段由一个 Step
// 描述：前向处理器、可选的补偿动作、超时与重试策略。
//
// 编排器在每次阶段尝试后都会把完整任务状态写入持久化网关（主存储
// 必须成功，缓存尽力而为），因此进程崩溃后恢复管理器可以从最近的
// 检查点无损接续。阶段失败分三类处置：可重试的瞬时故障按
// base*2^(n-1) 指数退避原地重试；需要回滚的失败触发补偿引擎逆序
// 回放已完成阶段后进入 FAILED；业务性拒绝（例如资质不达标）不是
// 错误，任务干净收束到 COMPLETED 且不触发补偿。
package saga
